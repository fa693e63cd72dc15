package venue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/aggregator"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/store/memory"
)

var start = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCache struct {
	mu     sync.Mutex
	prices []domain.ExchangePrice
	set    chan struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{set: make(chan struct{}, 8)}
}

func (c *fakeCache) SetPrices(_ context.Context, prices []domain.ExchangePrice) error {
	c.mu.Lock()
	c.prices = append(c.prices, prices...)
	c.mu.Unlock()
	c.set <- struct{}{}
	return nil
}

func (c *fakeCache) GetPrices(context.Context, string) ([]domain.ExchangePrice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ExchangePrice(nil), c.prices...), nil
}

type fakeBus struct {
	domain.SignalBus
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func newTestActor(t *testing.T, store *memory.Store, cache domain.PriceCache, bus domain.SignalBus) *Actor {
	t.Helper()
	agg, err := aggregator.New(aggregator.Config{Source: "kraken", WindowDuration: 5 * time.Second, WindowsPerMinute: 12}, store, start, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return New(Config{Venue: "kraken", FlushCheck: 5 * time.Millisecond}, agg, cache, bus, discardLogger())
}

func lv(p, s string) []domain.RawLevel {
	return []domain.RawLevel{{Price: p, Size: s}}
}

func TestActorBookEventsReachAggregator(t *testing.T) {
	store := memory.New()
	cache := newFakeCache()
	bus := &fakeBus{}
	a := newTestActor(t, store, cache, bus)

	a.handle(domain.FeedEvent{
		Kind:   domain.EventBookSnapshot,
		Symbol: "BTCUSD",
		Bids:   []domain.RawLevel{{Price: "100", Size: "1"}, {Price: "99", Size: "2"}},
		Asks:   lv("101", "1"),
		Seq:    1,
	})
	a.handle(domain.FeedEvent{Kind: domain.EventBookDelta, Symbol: "BTCUSD", Side: domain.SideBid, Bids: lv("100", "0"), Seq: 2})

	a.checkFlush(start.Add(5 * time.Second))
	c := <-a.jobs
	a.persist(context.Background(), c)

	rows := store.Snapshots("kraken")
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	r := rows[0]
	if math.Abs(*r.AvgBid-99.5) > 1e-9 || *r.AvgAsk != 101 || r.TickCount != 2 || !r.Timestamp.Equal(start) {
		t.Fatalf("row = %+v", r)
	}

	got, _ := cache.GetPrices(context.Background(), "kraken")
	if len(got) != 1 || got[0].Exchange != "kraken" || math.Abs(got[0].Bid-99.5) > 1e-9 {
		t.Fatalf("cached = %+v", got)
	}
	var published []domain.ExchangePrice
	if err := json.Unmarshal(bus.published[PricesChannel][0], &published); err != nil {
		t.Fatal(err)
	}
	if len(published) != 1 || published[0].Symbol != "BTCUSD" {
		t.Fatalf("published = %+v", published)
	}
}

func TestActorResetDropsDeltasUntilSnapshot(t *testing.T) {
	a := newTestActor(t, memory.New(), nil, nil)

	a.handle(domain.FeedEvent{Kind: domain.EventBookDelta, Symbol: "ETHUSD", Side: domain.SideAsk, Asks: lv("10", "1")})
	if a.agg.Open() != 0 {
		t.Fatal("delta before snapshot reached the aggregator")
	}

	a.handle(domain.FeedEvent{Kind: domain.EventBookSnapshot, Symbol: "ETHUSD", Bids: lv("9", "1"), Asks: lv("10", "1")})
	a.handle(domain.FeedEvent{Kind: domain.EventReset})
	if a.books["ETHUSD"].Ready() {
		t.Fatal("book still ready after reset")
	}

	a.agg.Cut(start.Add(5 * time.Second))
	a.handle(domain.FeedEvent{Kind: domain.EventBookDelta, Symbol: "ETHUSD", Side: domain.SideAsk, Asks: lv("11", "1")})
	if a.agg.Open() != 0 {
		t.Fatal("delta after reset reached the aggregator")
	}
}

func TestActorCrossedBookPassesThrough(t *testing.T) {
	store := memory.New()
	a := newTestActor(t, store, nil, nil)

	a.handle(domain.FeedEvent{Kind: domain.EventBookSnapshot, Symbol: "SOL", Bids: lv("21", "1"), Asks: lv("20", "1")})
	a.checkFlush(start.Add(5 * time.Second))
	a.persist(context.Background(), <-a.jobs)

	rows := store.Snapshots("kraken")
	if len(rows) != 1 || *rows[0].AvgBid != 21 || *rows[0].AvgAsk != 20 || *rows[0].AvgSpread != -1 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestActorDropsCutWhileFlushInFlight(t *testing.T) {
	a := newTestActor(t, memory.New(), nil, nil)

	a.handle(domain.FeedEvent{Kind: domain.EventTick, Symbol: "BTC", Bid: 1, Ask: 2})
	a.checkFlush(start.Add(5 * time.Second))

	a.handle(domain.FeedEvent{Kind: domain.EventTick, Symbol: "BTC", Bid: 1, Ask: 2})
	a.checkFlush(start.Add(10 * time.Second))

	if a.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", a.Dropped())
	}
	if a.agg.Open() != 0 {
		t.Fatal("dropped cut left buckets open")
	}
	if len(a.jobs) != 1 {
		t.Fatalf("queued jobs = %d", len(a.jobs))
	}
}

func TestActorDroppedClosingCutKeepsMinuteRollup(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := newTestActor(t, store, nil, nil)
	drain := func() {
		a.persist(ctx, <-a.jobs)
		a.inFlight.Store(false)
	}
	tick := func() {
		a.handle(domain.FeedEvent{Kind: domain.EventTick, Symbol: "BTC", Bid: 100, Ask: 101})
	}

	for i := 1; i <= 11; i++ {
		tick()
		a.checkFlush(start.Add(time.Duration(i) * 5 * time.Second))
		drain()
	}

	// The closing window of the first minute arrives while a persist runs.
	tick()
	a.inFlight.Store(true)
	a.checkFlush(start.Add(time.Minute))
	a.inFlight.Store(false)
	if a.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", a.Dropped())
	}

	next := start.Add(time.Minute)
	for i := 1; i <= 12; i++ {
		tick()
		a.checkFlush(next.Add(time.Duration(i) * 5 * time.Second))
		drain()
	}

	mins := store.Minutes("kraken")
	if len(mins) != 2 {
		t.Fatalf("minutes = %+v, want 2", mins)
	}
	if !mins[0].Timestamp.Equal(start) || mins[0].TickCount != 11 {
		t.Fatalf("first minute = %+v", mins[0])
	}
	if !mins[1].Timestamp.Equal(next) || mins[1].TickCount != 12 {
		t.Fatalf("second minute = %+v", mins[1])
	}
	if len(a.deferred) != 0 {
		t.Fatalf("deferred = %v", a.deferred)
	}
}

func TestActorRunFlushesOnTicker(t *testing.T) {
	store := memory.New()
	cache := newFakeCache()
	a := newTestActor(t, store, cache, nil)
	a.now = func() time.Time { return start.Add(7 * time.Second) }

	a.Inbound() <- domain.FeedEvent{Kind: domain.EventTick, Symbol: "BTC", Bid: 100, Ask: 101}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-cache.set:
	case <-time.After(2 * time.Second):
		t.Fatal("no flush")
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run = %v", err)
	}

	rows := store.Snapshots("kraken")
	if len(rows) != 1 || rows[0].Symbol != "BTC" || !rows[0].Timestamp.Equal(start) {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestActorShutdownPersistsOpenWindow(t *testing.T) {
	store := memory.New()
	a := newTestActor(t, store, nil, nil)
	a.cfg.FlushCheck = time.Hour
	a.now = func() time.Time { return start.Add(time.Second) }

	a.handle(domain.FeedEvent{Kind: domain.EventTick, Symbol: "ETH", Bid: 10, Ask: 11})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != context.Canceled {
		t.Fatalf("Run = %v", err)
	}
	if rows := store.Snapshots("kraken"); len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
}
