package domain

import (
	"context"
	"time"
)

// SnapshotStore persists window snapshots and their minute rollups for one
// or more sources. All methods are scoped by source.
type SnapshotStore interface {
	InsertSnapshots(ctx context.Context, source string, rows []Snapshot) error
	// QueryMinuteCandidates returns snapshots with from <= ts < to grouped
	// by symbol.
	QueryMinuteCandidates(ctx context.Context, source string, from, to time.Time) (map[string][]Snapshot, error)
	UpsertMinute(ctx context.Context, source string, rec MinuteRecord) error
	DeleteSnapshotsBefore(ctx context.Context, source string, before time.Time) (int64, error)
	DeleteMinutesBefore(ctx context.Context, source string, before time.Time) (int64, error)
	ListMinutesBefore(ctx context.Context, source string, before time.Time) ([]MinuteRecord, error)
}

// PriceReader reads persisted prices back as exchange prices. Rows come from
// the snapshot or minute series depending on granularity; bid/ask are the
// row averages.
type PriceReader interface {
	// LatestPriceRows returns the newest row per symbol. An empty symbols
	// slice means every symbol.
	LatestPriceRows(ctx context.Context, source string, g Granularity, symbols []string) ([]ExchangePrice, error)
	// RangePriceRows returns rows for one symbol with from <= ts <= to,
	// ascending by timestamp.
	RangePriceRows(ctx context.Context, source string, g Granularity, symbol string, from, to time.Time) ([]ExchangePrice, error)
}

// AlertStore persists delivered alerts.
type AlertStore interface {
	Insert(ctx context.Context, ev AlertEvent) error
	ListRecent(ctx context.Context, limit int) ([]AlertEvent, error)
}
