// Package lock provides optional write serialization for resolutions that
// target the same contact fields.
//
// The resolver itself is correct without any locking: concurrent calls can
// leave duplicate primaries or secondaries, and the next read consolidates
// them. This package exists for deployments that prefer to prevent those
// duplicates at the source by serializing per normalized field value, the
// store-layer discipline the resolver deliberately does not own.
package lock

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"unify/internal/contact/models"
)

// FieldLocker acquires a cross-process lock on one field key and returns a
// release func. Implementations: RedisLocker.
type FieldLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Guard collapses concurrent identical resolutions in-process and, when a
// FieldLocker is configured, serializes cross-process writers per field.
type Guard struct {
	group   singleflight.Group
	locker  FieldLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

type Option func(*Guard)

func WithFieldLocker(l FieldLocker) Option {
	return func(g *Guard) {
		g.locker = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		lockTTL: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs fn under the guard. Identical concurrent requests share one
// execution; field locks are acquired in sorted order to avoid deadlock.
// Failure to acquire a lock degrades to running unguarded: the resolver's
// self-healing reads remain the backstop, so availability wins.
func (g *Guard) Do(ctx context.Context, email, phone string, fn func(context.Context) (*models.ClusterView, error)) (*models.ClusterView, error) {
	keys := fieldKeys(email, phone)

	v, err, _ := g.group.Do(strings.Join(keys, "|"), func() (any, error) {
		if g.locker != nil {
			for _, key := range keys {
				release, lockErr := g.locker.Acquire(ctx, key, g.lockTTL)
				if lockErr != nil {
					g.logger.WarnContext(ctx, "field lock unavailable, proceeding unlocked",
						"key", key,
						"error", lockErr.Error(),
					)
					continue
				}
				defer release()
			}
		}
		return fn(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ClusterView), nil
}

// fieldKeys normalizes the request fields into lock keys: emails
// case-insensitively, phones verbatim.
func fieldKeys(email, phone string) []string {
	var keys []string
	if email != "" {
		keys = append(keys, "email:"+strings.ToLower(email))
	}
	if phone != "" {
		keys = append(keys, "phone:"+phone)
	}
	sort.Strings(keys)
	return keys
}
