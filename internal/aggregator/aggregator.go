// Package aggregator compresses a venue's tick stream into fixed-size window
// snapshots and rolls those up into one record per symbol per minute.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Config controls window sizing for an Aggregator.
type Config struct {
	Source           string
	WindowDuration   time.Duration
	WindowsPerMinute int
}

// Cut is the output of closing one window: the rows to persist and whether
// the closed window completes its minute.
type Cut struct {
	WindowStart time.Time
	NextStart   time.Time
	Rows        []domain.Snapshot
	RollupDue   bool

	// DeferredMinutes are earlier minute starts whose closing cut was never
	// persisted. Persist rolls them up before this cut's own minute.
	DeferredMinutes []time.Time
}

// Aggregator keeps at most one open bucket per symbol. Record, Due and Cut
// must be called from a single goroutine; Persist, RollupIfDue and
// PruneMinutes only touch the store and may run elsewhere.
type Aggregator struct {
	source      string
	window      time.Duration
	buckets     map[string]*bucket
	windowStart time.Time

	store    domain.SnapshotStore
	archiver domain.MinuteArchiver
	logger   *slog.Logger
}

// New creates an Aggregator whose first window contains now. The window
// duration times windows per minute must equal exactly one minute.
func New(cfg Config, store domain.SnapshotStore, now time.Time, logger *slog.Logger) (*Aggregator, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("aggregator: source is required: %w", domain.ErrInvalidInput)
	}
	if cfg.WindowDuration <= 0 || cfg.WindowsPerMinute <= 0 ||
		cfg.WindowDuration*time.Duration(cfg.WindowsPerMinute) != time.Minute {
		return nil, fmt.Errorf("aggregator: window %s x %d does not span one minute: %w",
			cfg.WindowDuration, cfg.WindowsPerMinute, domain.ErrInvalidInput)
	}
	if store == nil {
		return nil, fmt.Errorf("aggregator: store is required: %w", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		source:      cfg.Source,
		window:      cfg.WindowDuration,
		buckets:     make(map[string]*bucket),
		windowStart: now.Truncate(cfg.WindowDuration),
		store:       store,
		logger:      logger.With(slog.String("component", "aggregator"), slog.String("source", cfg.Source)),
	}, nil
}

// SetArchiver enables archiving of minute rows before they are pruned.
func (a *Aggregator) SetArchiver(ar domain.MinuteArchiver) {
	a.archiver = ar
}

// Source returns the source name rows are written under.
func (a *Aggregator) Source() string { return a.source }

// WindowStart returns the start of the open window.
func (a *Aggregator) WindowStart() time.Time { return a.windowStart }

// Open returns the number of symbols with an open bucket.
func (a *Aggregator) Open() int { return len(a.buckets) }

// Record folds a tick into its symbol's bucket. A zero bid or ask means the
// side is absent. Ticks with non-finite or negative prices are dropped.
func (a *Aggregator) Record(t domain.Tick) {
	if t.Symbol == "" || !validPrice(t.Bid) || !validPrice(t.Ask) {
		a.logger.Warn("dropping invalid tick",
			slog.String("symbol", t.Symbol),
			slog.Float64("bid", t.Bid),
			slog.Float64("ask", t.Ask),
		)
		return
	}
	if t.Bid == 0 && t.Ask == 0 {
		return
	}
	b, ok := a.buckets[t.Symbol]
	if !ok {
		b = &bucket{}
		a.buckets[t.Symbol] = b
	}
	b.add(t.Bid, t.Ask)
}

// Due reports whether the open window has elapsed at now.
func (a *Aggregator) Due(now time.Time) bool {
	return !now.Before(a.windowStart.Add(a.window))
}

// Cut closes the open window, emitting one snapshot per non-empty bucket,
// and clears all buckets. The next window starts at the window containing
// now. Cut does no I/O.
func (a *Aggregator) Cut(now time.Time) Cut {
	start := a.windowStart
	next := now.Truncate(a.window)
	if !next.After(start) {
		next = start.Add(a.window)
	}

	rows := make([]domain.Snapshot, 0, len(a.buckets))
	for sym, b := range a.buckets {
		if b.empty() {
			continue
		}
		rows = append(rows, b.snapshot(a.source, sym, start))
	}
	clear(a.buckets)
	a.windowStart = next

	return Cut{
		WindowStart: start,
		NextStart:   next,
		Rows:        rows,
		RollupDue:   closesMinute(start, next),
	}
}

// closesMinute reports whether the window starting at start, followed by a
// window starting at next, is the last one of its minute. A stalled loop
// that skips past the boundary still closes the minute it left.
func closesMinute(start, next time.Time) bool {
	return next.Truncate(time.Minute).After(start.Truncate(time.Minute))
}

// Persist writes a cut's rows and, when the cut completes its minute, rolls
// the minute up. Failures are logged and never returned; the in-memory state
// was already cleared by Cut.
func (a *Aggregator) Persist(ctx context.Context, c Cut) {
	if len(c.Rows) > 0 {
		if err := a.store.InsertSnapshots(ctx, a.source, c.Rows); err != nil {
			a.logger.Error("persist snapshots failed",
				slog.Time("window_start", c.WindowStart),
				slog.Int("rows", len(c.Rows)),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, m := range c.DeferredMinutes {
		if err := a.rollup(ctx, m); err != nil {
			a.logger.Error("deferred minute rollup failed",
				slog.Time("minute", m),
				slog.String("error", err.Error()),
			)
		}
	}
	if _, err := a.rollupIfDue(ctx, c.WindowStart, c.NextStart); err != nil {
		a.logger.Error("minute rollup failed",
			slog.Time("window_start", c.WindowStart),
			slog.String("error", err.Error()),
		)
	}
}

// Flush cuts the open window and persists it inline.
func (a *Aggregator) Flush(ctx context.Context, now time.Time) Cut {
	c := a.Cut(now)
	a.Persist(ctx, c)
	return c
}

// RollupIfDue rolls up the minute containing windowStart when windowStart is
// the last window of that minute. It reports whether a rollup ran.
func (a *Aggregator) RollupIfDue(ctx context.Context, windowStart time.Time) (bool, error) {
	return a.rollupIfDue(ctx, windowStart, windowStart.Add(a.window))
}

func (a *Aggregator) rollupIfDue(ctx context.Context, start, next time.Time) (bool, error) {
	if !closesMinute(start, next) {
		return false, nil
	}
	return true, a.rollup(ctx, start.Truncate(time.Minute))
}

func (a *Aggregator) rollup(ctx context.Context, minuteStart time.Time) error {
	groups, err := a.store.QueryMinuteCandidates(ctx, a.source, minuteStart, minuteStart.Add(time.Minute))
	if err != nil {
		return fmt.Errorf("aggregator: query minute candidates: %w", err)
	}
	for sym, rows := range groups {
		if len(rows) == 0 {
			continue
		}
		rec := rollupMinute(a.source, sym, minuteStart, rows)
		if err := a.store.UpsertMinute(ctx, a.source, rec); err != nil {
			return fmt.Errorf("aggregator: upsert minute %s: %w", sym, err)
		}
	}
	deleted, err := a.store.DeleteSnapshotsBefore(ctx, a.source, minuteStart)
	if err != nil {
		return fmt.Errorf("aggregator: delete old snapshots: %w", err)
	}
	a.logger.Debug("minute rolled up",
		slog.Time("minute", minuteStart),
		slog.Int("symbols", len(groups)),
		slog.Int64("snapshots_deleted", deleted),
	)
	return nil
}

// PruneMinutes deletes minute rows older than now-retention. With an archiver
// set, the rows are archived first and a failed archive skips the delete.
func (a *Aggregator) PruneMinutes(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	before := now.Add(-retention)
	if a.archiver != nil {
		rows, err := a.store.ListMinutesBefore(ctx, a.source, before)
		if err != nil {
			return 0, fmt.Errorf("aggregator: list minutes for archive: %w", err)
		}
		if len(rows) > 0 {
			key, err := a.archiver.ArchiveMinutes(ctx, a.source, before, rows)
			if err != nil {
				return 0, fmt.Errorf("aggregator: archive minutes: %w", err)
			}
			a.logger.Info("minutes archived", slog.String("key", key), slog.Int("rows", len(rows)))
		}
	}
	n, err := a.store.DeleteMinutesBefore(ctx, a.source, before)
	if err != nil {
		return 0, fmt.Errorf("aggregator: prune minutes: %w", err)
	}
	return n, nil
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
