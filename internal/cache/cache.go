// Package cache stores read projections under tags that mutations invalidate explicitly.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"example.com/movimentoterra/internal/observability"
)

// Tags shared by accessors and mutations.
const (
	TagAttivita     = "attivita"
	TagInterazioni  = "interazioni"
	TagCantieri     = "cantieri"
	TagMezzi        = "mezzi"
	TagAttrezzature = "attrezzature"
	TagTrasporti    = "trasporti"
	TagUsers        = "users"
)

// UserTag scopes a tag to a single user.
func UserTag(userID string) string {
	return "user:" + userID
}

// Key identifies a cached projection by entity kind and optional scope.
type Key struct {
	Kind  string
	Scope string
}

func (k Key) String() string {
	if k.Scope == "" {
		return k.Kind
	}
	return k.Kind + ":" + k.Scope
}

// Store is a tag-aware byte cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	Invalidate(ctx context.Context, tags ...string) error
}

// Fencer is implemented by stores that can refuse a write made stale by a concurrent Invalidate.
// Fence captures the generation of tags; SetFenced stores only if none of them moved since.
type Fencer interface {
	Fence(ctx context.Context, tags []string) (string, error)
	SetFenced(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string, fence string) error
}

// Noop never stores anything.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards the value.
func (Noop) Set(context.Context, string, []byte, time.Duration, []string) error { return nil }

// Invalidate performs no action.
func (Noop) Invalidate(context.Context, ...string) error { return nil }

// Remember returns the cached value for key or loads, stores and returns it.
// Cache failures degrade to a direct load; only load errors are returned.
// With a Fencer store, a value loaded while one of its tags was invalidated is returned but not stored.
// Other stores may keep such a value until its ttl runs out.
func Remember[T any](ctx context.Context, store Store, key Key, ttl time.Duration, tags []string, load func(context.Context) (T, error)) (T, error) {
	k := key.String()
	if store != nil {
		if raw, ok, err := store.Get(ctx, k); err == nil && ok {
			var cached T
			if json.Unmarshal(raw, &cached) == nil {
				observability.RecordCacheHit(key.Kind)
				return cached, nil
			}
		}
	}
	observability.RecordCacheMiss(key.Kind)

	fencer, fenced := store.(Fencer)
	var fence string
	if fenced && ttl > 0 {
		var err error
		if fence, err = fencer.Fence(ctx, tags); err != nil {
			store = nil
		}
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if store != nil && ttl > 0 {
		if raw, err := json.Marshal(value); err == nil {
			if fenced {
				_ = fencer.SetFenced(ctx, k, raw, ttl, tags, fence)
			} else {
				_ = store.Set(ctx, k, raw, ttl, tags)
			}
		}
	}
	return value, nil
}

func joinGenerations(gens []uint64) string {
	var b strings.Builder
	for i, g := range gens {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(g, 10))
	}
	return b.String()
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
