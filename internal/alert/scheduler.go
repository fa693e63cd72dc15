package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbwatch/internal/arbitrage"
	"github.com/alanyoungcy/arbwatch/internal/domain"
)

const (
	// StreamName is the durable Redis stream alert events are appended to.
	StreamName = "alerts"
	// ChannelName is the pub/sub channel live alerts are published on.
	ChannelName = "arb"

	lockKey = "arbwatch:alert-scan"
)

// Scanner finds arbitrage opportunities.
type Scanner interface {
	Scan(ctx context.Context, req arbitrage.ScanRequest) ([]domain.Opportunity, error)
}

// Dispatcher delivers a message to named channels and reports how many
// delivery attempts it made.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []string, title, message string) (int, error)
}

// Rule is one alert subscription.
type Rule struct {
	Name             string
	Exchanges        []string
	Symbols          []string
	MinProfitPercent float64
	Cooldown         time.Duration
	Channels         []string
}

// SchedulerConfig configures a Scheduler. Store, Bus and Locks are optional.
type SchedulerConfig struct {
	Scanner         Scanner
	Tracker         *Tracker
	Dispatcher      Dispatcher
	Store           domain.AlertStore
	Bus             domain.SignalBus
	Locks           domain.LockManager
	Rules           []Rule
	Interval        time.Duration
	CleanupInterval time.Duration
	MaxAge          time.Duration
	Logger          *slog.Logger
}

// Scheduler periodically scans every rule and delivers alerts for
// opportunities whose cooldown has elapsed.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "alert_scheduler")),
	}
}

// Run restores history from the alert stream, then scans on every interval
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.Restore(ctx); err != nil {
		s.logger.Warn("alert history restore failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("alert history restored", slog.Int("events", n))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanup.Stop()

	s.logger.Info("alert scheduler started",
		slog.Int("rules", len(s.cfg.Rules)),
		slog.Duration("interval", s.cfg.Interval),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("alert scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("alert pass failed", slog.String("error", err.Error()))
			}
		case <-cleanup.C:
			s.cfg.Tracker.Cleanup(s.cfg.MaxAge)
		}
	}
}

// RunOnce evaluates every rule once and returns the number of alerts sent.
// When a lock manager is configured and another instance holds the scan
// lock, the pass is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if s.cfg.Locks != nil {
		unlock, err := s.cfg.Locks.Acquire(ctx, lockKey, s.cfg.Interval)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Debug("alert pass skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("alert: acquire lock: %w", err)
		}
		defer unlock()
	}

	sent := 0
	var errs []error
	for _, rule := range s.cfg.Rules {
		n, err := s.evaluate(ctx, rule)
		sent += n
		if err != nil {
			errs = append(errs, fmt.Errorf("alert: rule %s: %w", rule.Name, err))
		}
	}
	return sent, errors.Join(errs...)
}

func (s *Scheduler) evaluate(ctx context.Context, rule Rule) (int, error) {
	opps, err := s.cfg.Scanner.Scan(ctx, arbitrage.ScanRequest{
		Exchanges:        rule.Exchanges,
		Symbols:          rule.Symbols,
		MinProfitPercent: rule.MinProfitPercent,
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, opp := range opps {
		if !s.cfg.Tracker.ShouldAlert(opp.Symbol, opp.BuyFrom, opp.SellTo, rule.Cooldown) {
			continue
		}
		title, message := Format(opp)
		attempts, err := s.cfg.Dispatcher.Dispatch(ctx, rule.Channels, title, message)
		if err != nil {
			s.logger.Warn("alert delivery incomplete",
				slog.String("rule", rule.Name),
				slog.String("symbol", opp.Symbol),
				slog.String("error", err.Error()),
			)
		}
		if attempts == 0 {
			continue
		}
		s.cfg.Tracker.MarkSent(opp.Symbol, opp.BuyFrom, opp.SellTo)

		ev := domain.AlertEvent{
			ID:            uuid.New().String(),
			Rule:          rule.Name,
			Symbol:        opp.Symbol,
			BuyFrom:       opp.BuyFrom,
			SellTo:        opp.SellTo,
			BuyPrice:      opp.BuyPrice,
			SellPrice:     opp.SellPrice,
			ProfitPercent: opp.ProfitPercent,
			Channels:      rule.Channels,
			Delivered:     attempts,
			SentAt:        s.cfg.Tracker.Now().UTC(),
		}
		s.cfg.Tracker.AddToHistory(ev)
		s.record(ctx, ev)
		sent++
	}
	return sent, nil
}

// record persists and broadcasts a delivered alert. Failures are logged; the
// alert has already gone out.
func (s *Scheduler) record(ctx context.Context, ev domain.AlertEvent) {
	if s.cfg.Store != nil {
		if err := s.cfg.Store.Insert(ctx, ev); err != nil {
			s.logger.Error("store alert failed", slog.String("id", ev.ID), slog.String("error", err.Error()))
		}
	}
	if s.cfg.Bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal alert failed", slog.String("error", err.Error()))
		return
	}
	if err := s.cfg.Bus.StreamAppend(ctx, StreamName, payload); err != nil {
		s.logger.Error("append alert stream failed", slog.String("error", err.Error()))
	}
	if err := s.cfg.Bus.Publish(ctx, ChannelName, payload); err != nil {
		s.logger.Error("publish alert failed", slog.String("error", err.Error()))
	}
}

// Restore replays the alert stream into the tracker so cooldowns survive a
// restart. Only the newest DefaultHistorySize events are kept.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	if s.cfg.Bus == nil {
		return 0, nil
	}
	const page = 500
	var (
		events []domain.AlertEvent
		lastID = "0"
	)
	for {
		msgs, err := s.cfg.Bus.StreamRead(ctx, StreamName, lastID, page)
		if err != nil {
			return 0, fmt.Errorf("alert: read stream: %w", err)
		}
		for _, m := range msgs {
			lastID = m.ID
			var ev domain.AlertEvent
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				s.logger.Warn("skipping malformed alert event", slog.String("id", m.ID))
				continue
			}
			events = append(events, ev)
		}
		if len(msgs) < page {
			break
		}
	}
	if len(events) > DefaultHistorySize {
		events = events[len(events)-DefaultHistorySize:]
	}
	for _, ev := range events {
		s.cfg.Tracker.Restore(ev)
	}
	return len(events), nil
}

// Format renders an opportunity as an alert title and body.
func Format(opp domain.Opportunity) (string, string) {
	title := fmt.Sprintf("%s +%.2f%%", opp.Symbol, opp.ProfitPercent)
	message := fmt.Sprintf("buy on %s at %g, sell on %s at %g (profit %g, data age %s)",
		opp.BuyFrom, opp.BuyPrice, opp.SellTo, opp.SellPrice, opp.Profit, opp.DataAge.Round(time.Millisecond))
	return title, message
}
