package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var logger = logging.Logger("cache")

var (
	tierHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsgraph",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Layered cache hits by cache name and tier index.",
	}, []string{"cache", "tier"})

	tierMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsgraph",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Layered cache lookups that missed every tier.",
	}, []string{"cache"})
)

// Collectors returns the cache metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{tierHits, tierMisses}
}

// Layered is a Cache made of tiers ordered fastest first.
type Layered[T any] struct {
	name  string
	tiers []Cache[T]
}

var _ Cache[[]byte] = (*Layered[[]byte])(nil)

// NewLayered composes tiers. name labels the metrics.
func NewLayered[T any](name string, tiers ...Cache[T]) *Layered[T] {
	return &Layered[T]{name: name, tiers: tiers}
}

// Tiers returns the number of tiers.
func (l *Layered[T]) Tiers() int {
	return len(l.tiers)
}

// Get checks each tier in order. A hit in tier i is copied into tiers
// 0..i-1. Back-fill failures are logged and do not fail the read.
func (l *Layered[T]) Get(ctx context.Context, key string) (T, error) {
	var empty T

	for i, tier := range l.tiers {
		value, err := tier.Get(ctx, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return empty, fmt.Errorf("cache %s tier %d: %w", l.name, i, err)
		}

		tierHits.WithLabelValues(l.name, fmt.Sprint(i)).Inc()
		for j := 0; j < i; j++ {
			if err := l.tiers[j].Set(ctx, key, value, 0); err != nil {
				logger.Warnf("cache %s: back-fill of tier %d failed for %s: %v", l.name, j, key, err)
			}
		}
		return value, nil
	}

	tierMisses.WithLabelValues(l.name).Inc()
	return empty, ErrCacheMiss
}

// Set writes through every tier, slowest first, so that a reader never sees
// a fast-tier entry whose slow-tier copy failed to persist.
func (l *Layered[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	for i := len(l.tiers) - 1; i >= 0; i-- {
		if err := l.tiers[i].Set(ctx, key, data, ttl); err != nil {
			return fmt.Errorf("cache %s tier %d: %w", l.name, i, err)
		}
	}
	return nil
}

// Delete removes key from every tier.
func (l *Layered[T]) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, tier := range l.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear clears every tier.
func (l *Layered[T]) Clear(ctx context.Context) error {
	var errs []error
	for _, tier := range l.tiers {
		if err := tier.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every tier.
func (l *Layered[T]) Close() error {
	var errs []error
	for _, tier := range l.tiers {
		if err := tier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
