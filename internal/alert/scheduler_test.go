package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/arbitrage"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/store/memory"
)

type fakeScanner struct {
	opps []domain.Opportunity
	reqs []arbitrage.ScanRequest
}

func (f *fakeScanner) Scan(_ context.Context, req arbitrage.ScanRequest) ([]domain.Opportunity, error) {
	f.reqs = append(f.reqs, req)
	return f.opps, nil
}

type fakeDispatcher struct {
	calls int
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, channels []string, _, _ string) (int, error) {
	f.calls++
	return len(channels), f.err
}

type fakeBus struct {
	stream    []domain.StreamMessage
	published [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.stream = append(b.stream, domain.StreamMessage{ID: time.Now().String(), Payload: payload})
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := 0
	if lastID != "0" {
		for i, m := range b.stream {
			if m.ID == lastID {
				start = i + 1
			}
		}
	}
	end := min(start+count, len(b.stream))
	return b.stream[start:end], nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var opp = domain.Opportunity{
	Symbol: "BTC", BuyFrom: "alpha", SellTo: "beta",
	BuyPrice: 101, SellPrice: 105, Profit: 4, ProfitPercent: 3.96,
}

func TestRunOnceRespectsCooldown(t *testing.T) {
	scanner := &fakeScanner{opps: []domain.Opportunity{opp}}
	disp := &fakeDispatcher{}
	store := memory.New()
	bus := &fakeBus{}
	tr := NewTracker(nil)

	s := NewScheduler(SchedulerConfig{
		Scanner:    scanner,
		Tracker:    tr,
		Dispatcher: disp,
		Store:      store,
		Bus:        bus,
		Rules: []Rule{{
			Name: "btc", Exchanges: []string{"alpha", "beta"}, MinProfitPercent: 1,
			Cooldown: time.Hour, Channels: []string{"console"},
		}},
		Logger: testLogger(),
	})

	ctx := context.Background()
	n, err := s.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("first pass sent %d, err %v", n, err)
	}
	n, _ = s.RunOnce(ctx)
	if n != 0 || disp.calls != 1 {
		t.Fatalf("second pass sent %d (dispatch calls %d), want cooldown suppression", n, disp.calls)
	}
	if scanner.reqs[0].MinProfitPercent != 1 || len(scanner.reqs[0].Exchanges) != 2 {
		t.Fatalf("scan request = %+v", scanner.reqs[0])
	}

	hist := tr.GetRecent(0)
	if len(hist) != 1 || hist[0].Rule != "btc" || hist[0].Delivered != 1 {
		t.Fatalf("history = %+v", hist)
	}
	stored, _ := store.ListRecent(ctx, 10)
	if len(stored) != 1 || len(bus.stream) != 1 || len(bus.published) != 1 {
		t.Fatalf("stored %d, streamed %d, published %d", len(stored), len(bus.stream), len(bus.published))
	}
}

func TestRunOnceWithoutChannelsDoesNotMarkSent(t *testing.T) {
	tr := NewTracker(nil)
	s := NewScheduler(SchedulerConfig{
		Scanner:    &fakeScanner{opps: []domain.Opportunity{opp}},
		Tracker:    tr,
		Dispatcher: &fakeDispatcher{},
		Rules:      []Rule{{Name: "empty", Cooldown: time.Hour}},
		Logger:     testLogger(),
	})
	if n, _ := s.RunOnce(context.Background()); n != 0 {
		t.Fatalf("sent %d with no channels", n)
	}
	if !tr.ShouldAlert(opp.Symbol, opp.BuyFrom, opp.SellTo, time.Hour) {
		t.Fatal("cooldown started without a delivery attempt")
	}
}

func TestRunOnceFailedDeliveryStillCoolsDown(t *testing.T) {
	tr := NewTracker(nil)
	s := NewScheduler(SchedulerConfig{
		Scanner:    &fakeScanner{opps: []domain.Opportunity{opp}},
		Tracker:    tr,
		Dispatcher: &fakeDispatcher{err: errors.New("webhook down")},
		Rules:      []Rule{{Name: "r", Cooldown: time.Hour, Channels: []string{"webhook"}}},
		Logger:     testLogger(),
	})
	if n, _ := s.RunOnce(context.Background()); n != 1 {
		t.Fatalf("sent %d, want 1", n)
	}
	if tr.ShouldAlert(opp.Symbol, opp.BuyFrom, opp.SellTo, time.Hour) {
		t.Fatal("attempted delivery should start the cooldown")
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	scanner := &fakeScanner{opps: []domain.Opportunity{opp}}
	s := NewScheduler(SchedulerConfig{
		Scanner:    scanner,
		Tracker:    NewTracker(nil),
		Dispatcher: &fakeDispatcher{},
		Locks:      heldLock{},
		Rules:      []Rule{{Name: "r", Channels: []string{"console"}}},
		Logger:     testLogger(),
	})
	n, err := s.RunOnce(context.Background())
	if n != 0 || err != nil || len(scanner.reqs) != 0 {
		t.Fatalf("locked pass: sent %d err %v scans %d", n, err, len(scanner.reqs))
	}
}

func TestRestoreFromStream(t *testing.T) {
	bus := &fakeBus{}
	base := time.Now().UTC()
	for i := 0; i < 120; i++ {
		ev := domain.AlertEvent{ID: string(rune('a' + i%26)), Symbol: "BTC", BuyFrom: "a", SellTo: "b", SentAt: base.Add(time.Duration(i) * time.Second)}
		payload, _ := json.Marshal(ev)
		bus.stream = append(bus.stream, domain.StreamMessage{ID: time.Duration(i).String(), Payload: payload})
	}
	bus.stream = append(bus.stream, domain.StreamMessage{ID: "bad", Payload: []byte("{")})

	tr := NewTracker(nil)
	s := NewScheduler(SchedulerConfig{Tracker: tr, Bus: bus, Logger: testLogger()})
	n, err := s.Restore(context.Background())
	if err != nil || n != DefaultHistorySize {
		t.Fatalf("restored %d, err %v", n, err)
	}
	if tr.ShouldAlert("BTC", "a", "b", time.Hour) {
		t.Fatal("restored cooldown not applied")
	}
}

func TestRunOnceStampsAlertsWithTrackerClock(t *testing.T) {
	clock := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := NewTracker(func() time.Time { return clock })
	s := NewScheduler(SchedulerConfig{
		Scanner:    &fakeScanner{opps: []domain.Opportunity{opp}},
		Tracker:    tr,
		Dispatcher: &fakeDispatcher{},
		Rules: []Rule{{
			Name: "btc", Exchanges: []string{"alpha", "beta"},
			Cooldown: time.Minute, Channels: []string{"console"},
		}},
		Logger: testLogger(),
	})

	if n, err := s.RunOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("sent %d, err %v", n, err)
	}
	hist := tr.GetRecent(0)
	if len(hist) != 1 || !hist[0].SentAt.Equal(clock) {
		t.Fatalf("history = %+v, want SentAt %s", hist, clock)
	}

	clock = clock.Add(2 * time.Hour)
	tr.Cleanup(time.Hour)
	if got := tr.GetRecent(0); len(got) != 0 {
		t.Fatalf("history after cleanup = %+v", got)
	}
	if !tr.ShouldAlert("BTC", "alpha", "beta", time.Minute) {
		t.Fatal("cooldown should have expired on the tracker clock")
	}
}
