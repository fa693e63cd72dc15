package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore on the price_snapshots and
// price_minutes tables. Every row carries its source.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

var snapshotCols = []string{
	"source", "symbol", "ts",
	"avg_bid", "avg_ask", "avg_spread",
	"min_bid", "max_bid", "min_ask", "max_ask",
	"tick_count",
}

const rowSelectCols = `symbol, ts, avg_bid, avg_ask, avg_spread,
	min_bid, max_bid, min_ask, max_ask, tick_count`

// InsertSnapshots bulk-loads rows with COPY.
func (s *SnapshotStore) InsertSnapshots(ctx context.Context, source string, rows []domain.Snapshot) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"price_snapshots"},
		snapshotCols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{
				source, r.Symbol, r.Timestamp.UTC(),
				r.AvgBid, r.AvgAsk, r.AvgSpread,
				r.MinBid, r.MaxBid, r.MinAsk, r.MaxAsk,
				r.TickCount,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshots %s: %w", source, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("postgres: insert snapshots %s: copied %d of %d rows", source, n, len(rows))
	}
	return nil
}

// QueryMinuteCandidates returns source's snapshots in [from, to) grouped by
// symbol.
func (s *SnapshotStore) QueryMinuteCandidates(ctx context.Context, source string, from, to time.Time) (map[string][]domain.Snapshot, error) {
	query := `SELECT ` + rowSelectCols + `
		FROM price_snapshots
		WHERE source = $1 AND ts >= $2 AND ts < $3
		ORDER BY symbol, ts`

	rows, err := s.pool.Query(ctx, query, source, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: query minute candidates %s: %w", source, err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Snapshot)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snap.Source = source
		out[snap.Symbol] = append(out[snap.Symbol], snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate snapshots: %w", err)
	}
	return out, nil
}

// UpsertMinute inserts rec or replaces the row for (source, symbol, ts).
func (s *SnapshotStore) UpsertMinute(ctx context.Context, source string, rec domain.MinuteRecord) error {
	const query = `
		INSERT INTO price_minutes (
			source, symbol, ts, avg_bid, avg_ask, avg_spread,
			min_bid, max_bid, min_ask, max_ask, tick_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source, symbol, ts) DO UPDATE SET
			avg_bid    = EXCLUDED.avg_bid,
			avg_ask    = EXCLUDED.avg_ask,
			avg_spread = EXCLUDED.avg_spread,
			min_bid    = EXCLUDED.min_bid,
			max_bid    = EXCLUDED.max_bid,
			min_ask    = EXCLUDED.min_ask,
			max_ask    = EXCLUDED.max_ask,
			tick_count = EXCLUDED.tick_count`

	_, err := s.pool.Exec(ctx, query,
		source, rec.Symbol, rec.Timestamp.UTC(),
		rec.AvgBid, rec.AvgAsk, rec.AvgSpread,
		rec.MinBid, rec.MaxBid, rec.MinAsk, rec.MaxAsk,
		rec.TickCount,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert minute %s/%s: %w", source, rec.Symbol, err)
	}
	return nil
}

// DeleteSnapshotsBefore removes source's snapshots older than before.
func (s *SnapshotStore) DeleteSnapshotsBefore(ctx context.Context, source string, before time.Time) (int64, error) {
	const query = `DELETE FROM price_snapshots WHERE source = $1 AND ts < $2`
	tag, err := s.pool.Exec(ctx, query, source, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots %s: %w", source, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteMinutesBefore removes source's minute rows older than before.
func (s *SnapshotStore) DeleteMinutesBefore(ctx context.Context, source string, before time.Time) (int64, error) {
	const query = `DELETE FROM price_minutes WHERE source = $1 AND ts < $2`
	tag, err := s.pool.Exec(ctx, query, source, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete minutes %s: %w", source, err)
	}
	return tag.RowsAffected(), nil
}

// ListMinutesBefore returns source's minute rows older than before, oldest
// first.
func (s *SnapshotStore) ListMinutesBefore(ctx context.Context, source string, before time.Time) ([]domain.MinuteRecord, error) {
	query := `SELECT ` + rowSelectCols + `
		FROM price_minutes
		WHERE source = $1 AND ts < $2
		ORDER BY ts, symbol`

	rows, err := s.pool.Query(ctx, query, source, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list minutes %s: %w", source, err)
	}
	defer rows.Close()

	var out []domain.MinuteRecord
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan minute: %w", err)
		}
		snap.Source = source
		out = append(out, domain.MinuteRecord(snap))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate minutes: %w", err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
	var s domain.Snapshot
	err := row.Scan(
		&s.Symbol, &s.Timestamp,
		&s.AvgBid, &s.AvgAsk, &s.AvgSpread,
		&s.MinBid, &s.MaxBid, &s.MinAsk, &s.MaxAsk,
		&s.TickCount,
	)
	return s, err
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
