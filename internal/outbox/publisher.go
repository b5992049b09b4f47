package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger used when writers fail to close.
func WithPublisherLogger(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWriteTimeout bounds a single write to the brokers.
func WithWriteTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithBatchTimeout sets how long a writer waits to fill a batch before flushing it.
func WithBatchTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.batchTimeout = d
		}
	}
}

// Publisher sends change events to Kafka with one synchronous writer per topic.
// Events of one activity share a partition key, so the hash balancer keeps them in order.
type Publisher struct {
	brokers      []string
	logger       *zap.Logger
	writeTimeout time.Duration
	batchTimeout time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool
}

// NewPublisher constructs a Publisher for the given brokers.
func NewPublisher(brokers []string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		brokers:      brokers,
		logger:       zap.NewNop(),
		writeTimeout: 10 * time.Second,
		batchTimeout: 10 * time.Millisecond,
		writers:      make(map[string]*kafka.Writer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ErrPublisherClosed is returned by WriteMessages after Close.
var ErrPublisherClosed = errors.New("outbox: publisher closed")

// WriteMessages publishes msgs to topic and blocks until every broker replica acknowledged them.
func (p *Publisher) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer, err := p.writer(topic)
	if err != nil {
		return err
	}
	start := time.Now()
	err = writer.WriteMessages(ctx, msgs...)
	observePublish(topic, len(msgs), time.Since(start), err)
	return err
}

func (p *Publisher) writer(topic string) (*kafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: p.batchTimeout,
		WriteTimeout: p.writeTimeout,
	}
	p.writers[topic] = w
	return w, nil
}

// Close flushes and releases every writer. Later writes fail with ErrPublisherClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.Warn("close kafka writer failed", zap.String("topic", topic), zap.Error(err))
			errs = append(errs, err)
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}
