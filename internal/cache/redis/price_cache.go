package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per exchange at
// "price:{exchange}". Each field is a symbol holding a JSON-encoded
// domain.ExchangePrice.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires an exchange's
// hash when it stops being refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) key(exchange string) string {
	return pc.c.Key("price:" + exchange)
}

// SetPrices writes all prices in one pipeline.
func (pc *PriceCache) SetPrices(ctx context.Context, prices []domain.ExchangePrice) error {
	if len(prices) == 0 {
		return nil
	}
	byExchange := make(map[string][]any)
	for _, p := range prices {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("redis: marshal price %s/%s: %w", p.Exchange, p.Symbol, err)
		}
		byExchange[p.Exchange] = append(byExchange[p.Exchange], p.Symbol, string(b))
	}

	pipe := pc.c.Underlying().Pipeline()
	for ex, fields := range byExchange {
		pipe.HSet(ctx, pc.key(ex), fields...)
		if pc.ttl > 0 {
			pipe.Expire(ctx, pc.key(ex), pc.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set prices: %w", err)
	}
	return nil
}

// GetPrices returns every cached symbol for exchange sorted by symbol. It
// returns domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetPrices(ctx context.Context, exchange string) ([]domain.ExchangePrice, error) {
	vals, err := pc.c.Underlying().HGetAll(ctx, pc.key(exchange)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices %s: %w", exchange, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}

	out := make([]domain.ExchangePrice, 0, len(vals))
	for sym, raw := range vals {
		var p domain.ExchangePrice
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("redis: decode price %s/%s: %w", exchange, sym, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
