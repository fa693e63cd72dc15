package arbitrage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/store/memory"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func seed(t *testing.T, s *memory.Store, exchange, symbol string, ts time.Time, bid, ask float64) {
	t.Helper()
	row := domain.Snapshot{Symbol: symbol, Timestamp: ts, AvgBid: f(bid), AvgAsk: f(ask)}
	if err := s.InsertSnapshots(context.Background(), exchange, []domain.Snapshot{row}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMinute(context.Background(), exchange, domain.MinuteRecord(row)); err != nil {
		t.Fatal(err)
	}
}

func newEngine(s *memory.Store, now time.Time) *Engine {
	return NewEngine(EngineConfig{
		Reader: s,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return now },
	})
}

func TestScanDirectionalProfit(t *testing.T) {
	s := memory.New()
	seed(t, s, "alpha", "BTCUSDT", t0, 100, 101)
	seed(t, s, "beta", "BTCUSDT", t0.Add(2*time.Second), 105, 106)

	e := newEngine(s, t0.Add(7*time.Second))
	opps, err := e.Scan(context.Background(), ScanRequest{Exchanges: []string{"alpha", "beta"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 1 {
		t.Fatalf("opportunities = %+v, want only alpha->beta", opps)
	}
	o := opps[0]
	if o.BuyFrom != "alpha" || o.SellTo != "beta" || o.BuyPrice != 101 || o.SellPrice != 105 {
		t.Fatalf("opportunity = %+v", o)
	}
	if o.Profit != 4 || math.Abs(o.ProfitPercent-3.9604) > 1e-3 {
		t.Fatalf("profit = %v (%v%%)", o.Profit, o.ProfitPercent)
	}
	if o.DataAge != 5*time.Second {
		t.Fatalf("data age = %s, want 5s", o.DataAge)
	}
}

func TestScanThresholdAndOrdering(t *testing.T) {
	s := memory.New()
	seed(t, s, "alpha", "BTC", t0, 100, 101)
	seed(t, s, "beta", "BTC", t0, 103, 104)
	seed(t, s, "gamma", "BTC", t0, 110, 111)
	seed(t, s, "alpha", "ETH", t0, 10, 10.1)

	e := newEngine(s, t0)
	opps, err := e.Scan(context.Background(), ScanRequest{
		Exchanges:        []string{"alpha", "beta", "gamma"},
		MinProfitPercent: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	// alpha->gamma 8.91%, beta->gamma 5.77%, alpha->beta 1.98%
	want := [][2]string{{"alpha", "gamma"}, {"beta", "gamma"}, {"alpha", "beta"}}
	if len(opps) != len(want) {
		t.Fatalf("got %d opportunities: %+v", len(opps), opps)
	}
	for i, w := range want {
		if opps[i].BuyFrom != w[0] || opps[i].SellTo != w[1] {
			t.Fatalf("opps[%d] = %s->%s, want %s->%s", i, opps[i].BuyFrom, opps[i].SellTo, w[0], w[1])
		}
		if opps[i].Symbol != "BTC" {
			t.Fatalf("single-exchange symbol leaked into results: %+v", opps[i])
		}
	}
}

func TestScanInsufficientExchanges(t *testing.T) {
	e := newEngine(memory.New(), t0)
	for _, ex := range [][]string{nil, {"alpha"}, {"alpha", "alpha"}} {
		_, err := e.Scan(context.Background(), ScanRequest{Exchanges: ex})
		if !errors.Is(err, domain.ErrInsufficientExchanges) {
			t.Errorf("exchanges %v: err = %v", ex, err)
		}
	}
}

func TestScanDropsNonPositiveRows(t *testing.T) {
	s := memory.New()
	seed(t, s, "alpha", "BTC", t0, 0, 101)
	seed(t, s, "beta", "BTC", t0, 105, 106)

	opps, err := newEngine(s, t0).Scan(context.Background(), ScanRequest{
		Exchanges:        []string{"alpha", "beta"},
		MinProfitPercent: -100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 0 {
		t.Fatalf("expected no opportunities, got %+v", opps)
	}
}

func TestHistoricalArbitrage(t *testing.T) {
	s := memory.New()
	for i := 0; i < 3; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		seed(t, s, "alpha", "BTC", ts, 100, 101)
		if i != 1 {
			seed(t, s, "beta", "BTC", ts, 99, 100)
		}
	}

	e := newEngine(s, t0)
	pts, err := e.HistoricalArbitrage(context.Background(), HistoryRequest{
		Exchanges: []string{"alpha", "beta"},
		Symbol:    "BTC",
		From:      t0,
		To:        t0.Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	// Two aligned timestamps, both directions each, no threshold.
	if len(pts) != 4 {
		t.Fatalf("points = %d, want 4", len(pts))
	}
	if !pts[0].Timestamp.Equal(t0) || !pts[3].Timestamp.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("points not ascending: %+v", pts)
	}
	for _, p := range pts {
		if p.BuyFrom == "alpha" && p.Profit != -2 {
			t.Fatalf("alpha->beta profit = %v, want -2", p.Profit)
		}
		if p.BuyFrom == "beta" && p.Profit != 0 {
			t.Fatalf("beta->alpha profit = %v, want 0", p.Profit)
		}
	}
}

func TestHistoricalArbitrageRequiresRange(t *testing.T) {
	e := newEngine(memory.New(), t0)
	reqs := []HistoryRequest{
		{Exchanges: []string{"a", "b"}, From: t0, To: t0.Add(time.Hour)},
		{Exchanges: []string{"a", "b"}, Symbol: "BTC", To: t0},
		{Exchanges: []string{"a", "b"}, Symbol: "BTC", From: t0},
		{Exchanges: []string{"a", "b"}, Symbol: "BTC", From: t0.Add(time.Hour), To: t0},
	}
	for i, req := range reqs {
		if _, err := e.HistoricalArbitrage(context.Background(), req); !errors.Is(err, domain.ErrInvalidRange) {
			t.Errorf("request %d: err = %v, want ErrInvalidRange", i, err)
		}
	}
}
