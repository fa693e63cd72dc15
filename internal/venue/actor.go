// Package venue runs one exchange's ingestion loop: feed events update the
// order books, best prices feed the window aggregator, and closed windows
// are handed to a single persister goroutine.
package venue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/aggregator"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/orderbook"
)

// PricesChannel carries the latest flushed prices of every venue.
const PricesChannel = "prices"

const shutdownPersistTimeout = 10 * time.Second

// Config controls an Actor's cadence.
type Config struct {
	Venue         string
	FlushCheck    time.Duration
	PruneInterval time.Duration
	Retention     time.Duration
	InboundBuffer int
}

// Actor owns the books and aggregator of one venue. Run is the only
// goroutine touching them.
type Actor struct {
	cfg   Config
	agg   *aggregator.Aggregator
	books map[string]*orderbook.Book
	in    chan domain.FeedEvent

	jobs     chan aggregator.Cut
	inFlight atomic.Bool
	dropped  atomic.Int64

	// Minutes whose closing cut was dropped; owned by the Run goroutine.
	deferred []time.Time

	cache  domain.PriceCache
	bus    domain.SignalBus
	now    func() time.Time
	logger *slog.Logger
}

// New creates an actor. cache and bus may be nil.
func New(cfg Config, agg *aggregator.Aggregator, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *Actor {
	if cfg.FlushCheck <= 0 {
		cfg.FlushCheck = time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 1024
	}
	return &Actor{
		cfg:    cfg,
		agg:    agg,
		books:  make(map[string]*orderbook.Book),
		in:     make(chan domain.FeedEvent, cfg.InboundBuffer),
		jobs:   make(chan aggregator.Cut, 1),
		cache:  cache,
		bus:    bus,
		now:    time.Now,
		logger: logger.With(slog.String("component", "venue"), slog.String("venue", cfg.Venue)),
	}
}

// Venue returns the venue name.
func (a *Actor) Venue() string { return a.cfg.Venue }

// Inbound is the channel feeds deliver into.
func (a *Actor) Inbound() chan<- domain.FeedEvent { return a.in }

// Dropped returns how many cuts were discarded because a flush was still in
// flight.
func (a *Actor) Dropped() int64 { return a.dropped.Load() }

// Run processes events until ctx is cancelled, then persists the open
// window once more before returning.
func (a *Actor) Run(ctx context.Context) error {
	stop := make(chan struct{})
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		a.persister(context.WithoutCancel(ctx), stop)
	}()

	flush := time.NewTicker(a.cfg.FlushCheck)
	defer flush.Stop()

	a.logger.Info("venue actor started",
		slog.Duration("flush_check", a.cfg.FlushCheck),
		slog.Time("window_start", a.agg.WindowStart()),
	)

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-persistDone
			a.shutdown()
			return ctx.Err()
		case ev := <-a.in:
			a.handle(ev)
		case <-flush.C:
			a.checkFlush(a.now())
		}
	}
}

func (a *Actor) handle(ev domain.FeedEvent) {
	switch ev.Kind {
	case domain.EventTick:
		a.agg.Record(domain.Tick{Symbol: ev.Symbol, Bid: ev.Bid, Ask: ev.Ask})
	case domain.EventBookSnapshot:
		b := a.book(ev.Symbol)
		b.ApplySnapshot(ev.Bids, ev.Asks, ev.Seq)
		a.recordBest(b)
	case domain.EventBookDelta:
		b := a.book(ev.Symbol)
		levels := ev.Bids
		if ev.Side == domain.SideAsk {
			levels = ev.Asks
		}
		if !b.ApplyDelta(ev.Side, levels, ev.Seq) {
			a.logger.Debug("stale delta dropped", slog.String("symbol", ev.Symbol), slog.Int64("seq", ev.Seq))
			return
		}
		a.recordBest(b)
	case domain.EventReset:
		a.reset(ev.Symbol)
	default:
		a.logger.Warn("unknown feed event", slog.String("kind", ev.Kind.String()))
	}
}

func (a *Actor) book(symbol string) *orderbook.Book {
	b, ok := a.books[symbol]
	if !ok {
		b = orderbook.New(symbol, a.logger)
		a.books[symbol] = b
	}
	return b
}

// recordBest feeds the book's top of book to the aggregator. A crossed book
// passes through unchanged.
func (a *Actor) recordBest(b *orderbook.Book) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid && !okAsk {
		return
	}
	t := domain.Tick{Symbol: b.Symbol()}
	if okBid {
		t.Bid = bid.Price.InexactFloat64()
	}
	if okAsk {
		t.Ask = ask.Price.InexactFloat64()
	}
	a.agg.Record(t)
}

// reset discards book state for symbol, or for every symbol when empty.
func (a *Actor) reset(symbol string) {
	if symbol != "" {
		if b, ok := a.books[symbol]; ok {
			b.Reset()
		}
		return
	}
	for _, b := range a.books {
		b.Reset()
	}
	a.logger.Info("order books reset", slog.Int("books", len(a.books)))
}

func (a *Actor) checkFlush(now time.Time) {
	if !a.agg.Due(now) {
		return
	}
	c := a.agg.Cut(now)
	if !a.inFlight.CompareAndSwap(false, true) {
		a.dropped.Add(1)
		if c.RollupDue {
			a.deferred = append(a.deferred, c.WindowStart.Truncate(time.Minute))
		}
		a.logger.Warn("flush still in flight, dropping window",
			slog.Time("window_start", c.WindowStart),
			slog.Int("rows", len(c.Rows)),
			slog.Bool("rollup_deferred", c.RollupDue),
		)
		return
	}
	a.jobs <- a.carry(c)
}

// carry attaches rollups deferred by dropped cuts to c.
func (a *Actor) carry(c aggregator.Cut) aggregator.Cut {
	if len(a.deferred) > 0 {
		c.DeferredMinutes = append(a.deferred, c.DeferredMinutes...)
		a.deferred = nil
	}
	return c
}

// persister writes cuts one at a time and prunes old minute rows on its own
// ticker. Work in progress when stop closes is finished first.
func (a *Actor) persister(ctx context.Context, stop <-chan struct{}) {
	prune := time.NewTicker(a.cfg.PruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-stop:
			return
		case c := <-a.jobs:
			a.persist(ctx, c)
			a.inFlight.Store(false)
		case <-prune.C:
			n, err := a.agg.PruneMinutes(ctx, a.cfg.Retention, a.now())
			if err != nil {
				a.logger.Error("prune minutes failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.Info("minutes pruned", slog.Int64("rows", n))
			}
		}
	}
}

func (a *Actor) persist(ctx context.Context, c aggregator.Cut) {
	a.agg.Persist(ctx, c)
	if len(c.Rows) > 0 {
		a.publish(ctx, latestPrices(a.cfg.Venue, c.Rows))
	}
}

func (a *Actor) publish(ctx context.Context, prices []domain.ExchangePrice) {
	if len(prices) == 0 {
		return
	}
	if a.cache != nil {
		if err := a.cache.SetPrices(ctx, prices); err != nil {
			a.logger.Warn("price cache update failed", slog.String("error", err.Error()))
		}
	}
	if a.bus != nil {
		payload, err := json.Marshal(prices)
		if err != nil {
			a.logger.Warn("marshal prices", slog.String("error", err.Error()))
			return
		}
		if err := a.bus.Publish(ctx, PricesChannel, payload); err != nil {
			a.logger.Warn("publish prices failed", slog.String("error", err.Error()))
		}
	}
}

// shutdown persists a queued cut and whatever the open window holds. It runs
// after the persister has stopped, so it is the only writer.
func (a *Actor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownPersistTimeout)
	defer cancel()

	select {
	case c := <-a.jobs:
		a.persist(ctx, c)
		a.inFlight.Store(false)
	default:
	}
	if a.agg.Open() == 0 && len(a.deferred) == 0 {
		a.logger.Info("venue actor stopped")
		return
	}
	c := a.carry(a.agg.Cut(a.now()))
	a.persist(ctx, c)
	a.logger.Info("venue actor stopped", slog.Int("final_rows", len(c.Rows)))
}

// latestPrices converts window rows into cache entries. Sides with no
// observation in the window are left at zero.
func latestPrices(venue string, rows []domain.Snapshot) []domain.ExchangePrice {
	out := make([]domain.ExchangePrice, 0, len(rows))
	for _, r := range rows {
		p := domain.ExchangePrice{Exchange: venue, Symbol: r.Symbol, Timestamp: r.Timestamp}
		if r.AvgBid != nil {
			p.Bid = *r.AvgBid
		}
		if r.AvgAsk != nil {
			p.Ask = *r.AvgAsk
		}
		out = append(out, p)
	}
	return out
}
