package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// PriceStore implements domain.PriceReader over the snapshot and minute
// tables.
type PriceStore struct {
	pool *pgxpool.Pool
}

// NewPriceStore creates a PriceStore backed by the given pool.
func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

func tableFor(g domain.Granularity) (string, error) {
	switch g {
	case domain.GranularitySnapshot:
		return "price_snapshots", nil
	case domain.GranularityMinute:
		return "price_minutes", nil
	default:
		return "", fmt.Errorf("postgres: granularity %q: %w", g, domain.ErrInvalidInput)
	}
}

// LatestPriceRows returns the newest row per symbol for source. An empty
// symbols slice selects every symbol.
func (s *PriceStore) LatestPriceRows(ctx context.Context, source string, g domain.Granularity, symbols []string) ([]domain.ExchangePrice, error) {
	table, err := tableFor(g)
	if err != nil {
		return nil, err
	}
	query := `SELECT DISTINCT ON (symbol) symbol, ts, avg_bid, avg_ask
		FROM ` + table + `
		WHERE source = $1 AND (cardinality($2::text[]) = 0 OR symbol = ANY($2))
		ORDER BY symbol, ts DESC`

	if symbols == nil {
		symbols = []string{}
	}
	return s.query(ctx, source, query, source, symbols)
}

// RangePriceRows returns symbol's rows with from <= ts <= to, oldest first.
func (s *PriceStore) RangePriceRows(ctx context.Context, source string, g domain.Granularity, symbol string, from, to time.Time) ([]domain.ExchangePrice, error) {
	table, err := tableFor(g)
	if err != nil {
		return nil, err
	}
	query := `SELECT symbol, ts, avg_bid, avg_ask
		FROM ` + table + `
		WHERE source = $1 AND symbol = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts`

	return s.query(ctx, source, query, source, symbol, from.UTC(), to.UTC())
}

func (s *PriceStore) query(ctx context.Context, source, query string, args ...any) ([]domain.ExchangePrice, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query prices %s: %w", source, err)
	}
	defer rows.Close()

	var out []domain.ExchangePrice
	for rows.Next() {
		var (
			p        domain.ExchangePrice
			bid, ask *float64
		)
		if err := rows.Scan(&p.Symbol, &p.Timestamp, &bid, &ask); err != nil {
			return nil, fmt.Errorf("postgres: scan price: %w", err)
		}
		p.Exchange = source
		if bid != nil {
			p.Bid = *bid
		}
		if ask != nil {
			p.Ask = *ask
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate prices: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PriceReader = (*PriceStore)(nil)
