package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestLatestAndRange(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.Snapshot{
		{Symbol: "BTC", Timestamp: t0, AvgBid: f(100), AvgAsk: f(101)},
		{Symbol: "BTC", Timestamp: t0.Add(5 * time.Second), AvgBid: f(102), AvgAsk: f(103)},
		{Symbol: "ETH", Timestamp: t0, AvgBid: f(10), AvgAsk: f(11)},
	}
	if err := s.InsertSnapshots(ctx, "binance", rows); err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestPriceRows(ctx, "binance", domain.GranularitySnapshot, []string{"BTC"})
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].Bid != 102 {
		t.Fatalf("latest = %+v", latest)
	}

	rng, err := s.RangePriceRows(ctx, "binance", domain.GranularitySnapshot, "BTC", t0, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(rng) != 2 || !rng[0].Timestamp.Before(rng[1].Timestamp) {
		t.Fatalf("range = %+v", rng)
	}

	if _, err := s.LatestPriceRows(ctx, "binance", "hourly", nil); err == nil {
		t.Fatal("expected error for unknown granularity")
	}
}

func TestMinuteUpsertAndPrune(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = s.UpsertMinute(ctx, "kraken", domain.MinuteRecord{Symbol: "BTC", Timestamp: t0, TickCount: 1})
	_ = s.UpsertMinute(ctx, "kraken", domain.MinuteRecord{Symbol: "BTC", Timestamp: t0, TickCount: 7})
	_ = s.UpsertMinute(ctx, "kraken", domain.MinuteRecord{Symbol: "BTC", Timestamp: t0.Add(time.Minute)})

	got := s.Minutes("kraken")
	if len(got) != 2 || got[0].TickCount != 7 {
		t.Fatalf("minutes = %+v", got)
	}

	old, _ := s.ListMinutesBefore(ctx, "kraken", t0.Add(time.Minute))
	if len(old) != 1 {
		t.Fatalf("list before = %d rows, want 1", len(old))
	}
	n, _ := s.DeleteMinutesBefore(ctx, "kraken", t0.Add(time.Minute))
	if n != 1 || len(s.Minutes("kraken")) != 1 {
		t.Fatalf("deleted %d, remaining %d", n, len(s.Minutes("kraken")))
	}
}

func TestAlertsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		_ = s.Insert(ctx, domain.AlertEvent{ID: id})
	}
	got, _ := s.ListRecent(ctx, 2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("recent = %+v", got)
	}
}
