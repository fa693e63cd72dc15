// Package memory is an in-process implementation of the snapshot, price and
// alert stores. It backs the "memory" store driver and the package tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.SnapshotStore = (*Store)(nil)
	_ domain.PriceReader   = (*Store)(nil)
	_ domain.AlertStore    = (*Store)(nil)
)

type minuteKey struct {
	source string
	symbol string
	ts     int64
}

// Store keeps every series in maps guarded by one RWMutex.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string][]domain.Snapshot
	minutes   map[minuteKey]domain.MinuteRecord
	alerts    []domain.AlertEvent
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		snapshots: make(map[string][]domain.Snapshot),
		minutes:   make(map[minuteKey]domain.MinuteRecord),
	}
}

// InsertSnapshots appends rows for source.
func (s *Store) InsertSnapshots(_ context.Context, source string, rows []domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Source = source
		s.snapshots[source] = append(s.snapshots[source], r)
	}
	return nil
}

// QueryMinuteCandidates groups source's snapshots in [from, to) by symbol.
func (s *Store) QueryMinuteCandidates(_ context.Context, source string, from, to time.Time) (map[string][]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]domain.Snapshot)
	for _, r := range s.snapshots[source] {
		if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		out[r.Symbol] = append(out[r.Symbol], r)
	}
	return out, nil
}

// UpsertMinute stores rec, replacing any row with the same source, symbol
// and timestamp.
func (s *Store) UpsertMinute(_ context.Context, source string, rec domain.MinuteRecord) error {
	if rec.Symbol == "" {
		return fmt.Errorf("memory: upsert minute: empty symbol: %w", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Source = source
	s.minutes[minuteKey{source, rec.Symbol, rec.Timestamp.UnixNano()}] = rec
	return nil
}

// DeleteSnapshotsBefore removes source's snapshots older than before.
func (s *Store) DeleteSnapshotsBefore(_ context.Context, source string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.snapshots[source]
	kept := rows[:0]
	for _, r := range rows {
		if r.Timestamp.Before(before) {
			continue
		}
		kept = append(kept, r)
	}
	s.snapshots[source] = kept
	return int64(len(rows) - len(kept)), nil
}

// DeleteMinutesBefore removes source's minute rows older than before.
func (s *Store) DeleteMinutesBefore(_ context.Context, source string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.minutes {
		if k.source == source && rec.Timestamp.Before(before) {
			delete(s.minutes, k)
			n++
		}
	}
	return n, nil
}

// ListMinutesBefore returns source's minute rows older than before, oldest
// first.
func (s *Store) ListMinutesBefore(_ context.Context, source string, before time.Time) ([]domain.MinuteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MinuteRecord
	for k, rec := range s.minutes {
		if k.source == source && rec.Timestamp.Before(before) {
			out = append(out, rec)
		}
	}
	sortMinutes(out)
	return out, nil
}

// Snapshots returns a copy of source's snapshot rows.
func (s *Store) Snapshots(source string) []domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshots[source])
}

// Minutes returns source's minute rows, oldest first.
func (s *Store) Minutes(source string) []domain.MinuteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MinuteRecord
	for k, rec := range s.minutes {
		if k.source == source {
			out = append(out, rec)
		}
	}
	sortMinutes(out)
	return out
}

// LatestPriceRows returns the newest row per symbol for source.
func (s *Store) LatestPriceRows(_ context.Context, source string, g domain.Granularity, symbols []string) ([]domain.ExchangePrice, error) {
	rows, err := s.series(source, g)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]domain.Snapshot)
	for _, r := range rows {
		if len(symbols) > 0 && !slices.Contains(symbols, r.Symbol) {
			continue
		}
		if cur, ok := latest[r.Symbol]; !ok || r.Timestamp.After(cur.Timestamp) {
			latest[r.Symbol] = r
		}
	}
	out := make([]domain.ExchangePrice, 0, len(latest))
	for _, r := range latest {
		out = append(out, toPrice(source, r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// RangePriceRows returns symbol's rows in [from, to], ascending.
func (s *Store) RangePriceRows(_ context.Context, source string, g domain.Granularity, symbol string, from, to time.Time) ([]domain.ExchangePrice, error) {
	rows, err := s.series(source, g)
	if err != nil {
		return nil, err
	}
	var out []domain.ExchangePrice
	for _, r := range rows {
		if r.Symbol != symbol || r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		out = append(out, toPrice(source, r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Insert appends an alert event.
func (s *Store) Insert(_ context.Context, ev domain.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, ev)
	return nil
}

// ListRecent returns up to limit alerts, newest first.
func (s *Store) ListRecent(_ context.Context, limit int) ([]domain.AlertEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AlertEvent, 0, min(limit, len(s.alerts)))
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.alerts[i])
	}
	return out, nil
}

func (s *Store) series(source string, g domain.Granularity) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch g {
	case domain.GranularitySnapshot:
		return slices.Clone(s.snapshots[source]), nil
	case domain.GranularityMinute:
		var out []domain.Snapshot
		for k, rec := range s.minutes {
			if k.source == source {
				out = append(out, domain.Snapshot(rec))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("memory: granularity %q: %w", g, domain.ErrInvalidInput)
	}
}

func toPrice(source string, r domain.Snapshot) domain.ExchangePrice {
	p := domain.ExchangePrice{Exchange: source, Symbol: r.Symbol, Timestamp: r.Timestamp}
	if r.AvgBid != nil {
		p.Bid = *r.AvgBid
	}
	if r.AvgAsk != nil {
		p.Ask = *r.AvgAsk
	}
	return p
}

func sortMinutes(rows []domain.MinuteRecord) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Symbol < rows[j].Symbol
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
}
