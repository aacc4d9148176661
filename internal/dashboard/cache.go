package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fintrack/fintrack/internal/ledger"
)

const (
	// GenerationKey counts committed ledger changes. Cached totals are keyed by it.
	GenerationKey = "ledger:generation"
	// CommitChannel carries the new generation after each commit.
	CommitChannel = "ledger:commits"

	totalsKeyPrefix = "ledger:totals"
)

// Cache stores ledger totals in Redis under the current ledger generation. Advancing the
// generation orphans every older entry, which then expires through the TTL. A nil client
// turns every read into a direct computation.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a totals cache. client may be nil.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Generation returns the ledger generation, starting it at 1 on first use.
func (c *Cache) Generation(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, GenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so a commit racing the first reader is not lost.
		if err := c.client.SetNX(ctx, GenerationKey, 1, 0).Err(); err != nil {
			return 0, fmt.Errorf("dashboard cache: start generation: %w", err)
		}
		gen, err = c.client.Get(ctx, GenerationKey).Int64()
	}
	if err != nil {
		return 0, fmt.Errorf("dashboard cache: read generation: %w", err)
	}
	if gen <= 0 {
		gen = 1
		if err := c.client.Set(ctx, GenerationKey, gen, 0).Err(); err != nil {
			return 0, fmt.Errorf("dashboard cache: reset generation: %w", err)
		}
	}
	return gen, nil
}

// TotalsKey names the entry holding totals for the current generation.
func (c *Cache) TotalsKey(ctx context.Context) (string, error) {
	if !c.Enabled() {
		return totalsKeyPrefix, nil
	}
	gen, err := c.Generation(ctx)
	if err != nil {
		return "", err
	}
	return totalsKeyPrefix + ":" + strconv.FormatInt(gen, 10), nil
}

// LoadTotals returns the totals stored under key, computing and storing them on a miss. The
// boolean reports a cache hit.
func (c *Cache) LoadTotals(ctx context.Context, key string, compute func(context.Context) (ledger.Totals, error)) (ledger.Totals, bool, error) {
	if compute == nil {
		return ledger.Totals{}, false, errors.New("dashboard cache: totals source required")
	}
	if c.Enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var totals ledger.Totals
			if err := json.Unmarshal(payload, &totals); err != nil {
				return ledger.Totals{}, false, fmt.Errorf("dashboard cache: decode %s: %w", key, err)
			}
			return totals, true, nil
		case !errors.Is(err, redis.Nil):
			return ledger.Totals{}, false, fmt.Errorf("dashboard cache: read %s: %w", key, err)
		}
	}
	totals, err := compute(ctx)
	if err != nil {
		return ledger.Totals{}, false, err
	}
	if !c.Enabled() {
		return totals, false, nil
	}
	raw, err := json.Marshal(totals)
	if err != nil {
		return ledger.Totals{}, false, fmt.Errorf("dashboard cache: encode totals: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return ledger.Totals{}, false, fmt.Errorf("dashboard cache: store %s: %w", key, err)
	}
	return totals, false, nil
}

// Advance moves to the next ledger generation and announces it on CommitChannel.
func (c *Cache) Advance(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	gen, err := c.client.Incr(ctx, GenerationKey).Result()
	if err != nil {
		return fmt.Errorf("dashboard cache: advance generation: %w", err)
	}
	if err := c.client.Publish(ctx, CommitChannel, strconv.FormatInt(gen, 10)).Err(); err != nil {
		return fmt.Errorf("dashboard cache: announce generation %d: %w", gen, err)
	}
	return nil
}
