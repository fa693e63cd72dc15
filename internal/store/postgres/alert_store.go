package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Insert stores a delivered alert. Re-inserting the same id is a no-op.
func (s *AlertStore) Insert(ctx context.Context, ev domain.AlertEvent) error {
	const query = `
		INSERT INTO alert_events (
			id, rule, symbol, buy_from, sell_to,
			buy_price, sell_price, profit_percent,
			channels, delivered, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	channels := ev.Channels
	if channels == nil {
		channels = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Rule, ev.Symbol, ev.BuyFrom, ev.SellTo,
		ev.BuyPrice, ev.SellPrice, ev.ProfitPercent,
		channels, ev.Delivered, ev.SentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert %s: %w", ev.ID, err)
	}
	return nil
}

// ListRecent returns up to limit alerts, newest first.
func (s *AlertStore) ListRecent(ctx context.Context, limit int) ([]domain.AlertEvent, error) {
	const query = `
		SELECT id, rule, symbol, buy_from, sell_to,
			buy_price, sell_price, profit_percent,
			channels, delivered, sent_at
		FROM alert_events
		ORDER BY sent_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertEvent
	for rows.Next() {
		var ev domain.AlertEvent
		if err := rows.Scan(
			&ev.ID, &ev.Rule, &ev.Symbol, &ev.BuyFrom, &ev.SellTo,
			&ev.BuyPrice, &ev.SellPrice, &ev.ProfitPercent,
			&ev.Channels, &ev.Delivered, &ev.SentAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate alerts: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.AlertStore = (*AlertStore)(nil)
