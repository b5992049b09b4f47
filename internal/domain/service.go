package domain

import (
	"context"
	"time"

	"go.uber.org/zap"

	"example.com/movimentoterra/internal/cache"
)

// Option configures the collaborators shared by every service.
type Option func(*settings)

type settings struct {
	cache    cache.Store
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
	loc      *time.Location
}

func newSettings(opts []Option) settings {
	s := settings{
		cache:    cache.Noop{},
		cacheTTL: time.Minute,
		logger:   zap.NewNop(),
		now:      time.Now,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithCache sets the projection cache and the TTL used for cached reads.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(s *settings) {
		if store != nil {
			s.cache = store
		}
		s.cacheTTL = ttl
	}
}

// WithLogger overrides the logger used to report failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the timezone that defines "today".
func WithLocation(loc *time.Location) Option {
	return func(s *settings) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func (s settings) invalidate(ctx context.Context, tags ...string) {
	if err := s.cache.Invalidate(ctx, tags...); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Strings("tags", tags), zap.Error(err))
	}
}
