// Package dashboard serves ledger totals through a Redis cache keyed by ledger generation.
// Every committed ledger change advances the generation, so a cached rollup never outlives
// the state it was computed from.
package dashboard

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/fintrack/fintrack/internal/ledger"
)

// TotalsSource computes totals from stored state.
type TotalsSource interface {
	GetTotals(ctx context.Context) (ledger.Totals, error)
}

// Service returns cached totals. Concurrent misses share one computation.
type Service struct {
	source TotalsSource
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewService constructs the dashboard service. cache may be nil.
func NewService(source TotalsSource, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: cache, logger: logger}
}

// Totals returns the current rollup. Cache failures fall back to computing directly.
func (s *Service) Totals(ctx context.Context) (ledger.Totals, error) {
	key, err := s.cache.TotalsKey(ctx)
	if err != nil {
		s.logger.Warn("dashboard cache unavailable", slog.Any("error", err))
		return s.source.GetTotals(ctx)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		totals, _, err := s.cache.LoadTotals(ctx, key, s.source.GetTotals)
		return totals, err
	})
	if err != nil {
		if ledger.IsDomainError(err) {
			return ledger.Totals{}, err
		}
		s.logger.Warn("dashboard cache fetch failed", slog.Any("error", err))
		return s.source.GetTotals(ctx)
	}
	return v.(ledger.Totals), nil
}

// Warm computes the totals for the current generation so the next reader hits the cache.
func (s *Service) Warm(ctx context.Context) error {
	if !s.cache.Enabled() {
		return nil
	}
	key, err := s.cache.TotalsKey(ctx)
	if err != nil {
		return err
	}
	_, _, err = s.cache.LoadTotals(ctx, key, s.source.GetTotals)
	return err
}

// Invalidator advances the ledger generation after every committed ledger change.
type Invalidator struct {
	cache  *Cache
	logger *slog.Logger
}

var _ ledger.Observer = (*Invalidator)(nil)

// NewInvalidator constructs an Invalidator.
func NewInvalidator(cache *Cache, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{cache: cache, logger: logger}
}

func (i *Invalidator) Committed(ctx context.Context, ev ledger.Event) {
	if err := i.cache.Advance(context.WithoutCancel(ctx)); err != nil {
		i.logger.Error("dashboard cache advance failed", slog.String("event", string(ev.Type)), slog.Any("error", err))
	}
}
