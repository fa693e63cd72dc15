package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbwatch/internal/aggregator"
	"github.com/alanyoungcy/arbwatch/internal/alert"
	"github.com/alanyoungcy/arbwatch/internal/arbitrage"
	"github.com/alanyoungcy/arbwatch/internal/config"
	"github.com/alanyoungcy/arbwatch/internal/feed"
	"github.com/alanyoungcy/arbwatch/internal/pipeline"
	"github.com/alanyoungcy/arbwatch/internal/server"
	"github.com/alanyoungcy/arbwatch/internal/server/handler"
	"github.com/alanyoungcy/arbwatch/internal/server/ws"
	"github.com/alanyoungcy/arbwatch/internal/venue"
)

// CollectMode ingests every enabled venue into the snapshot store.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	orch, err := a.buildPipeline(deps)
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

// ScanMode runs the alert scheduler against the shared store.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	sched := a.buildScheduler(deps, a.buildEngine(deps), alert.NewTracker(nil))
	return ignoreCancel(sched.Run(ctx))
}

// ServerMode serves the HTTP API. Alert history is restored from the stream
// when Redis is configured.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	engine := a.buildEngine(deps)
	tracker := alert.NewTracker(nil)
	if deps.SignalBus != nil {
		if _, err := a.buildScheduler(deps, engine, tracker).Restore(ctx); err != nil {
			a.logger.Warn("alert history restore failed", slog.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	a.startServer(gctx, g, deps, engine, tracker)
	return g.Wait()
}

// FullMode runs ingestion, alerting and the API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	orch, err := a.buildPipeline(deps)
	if err != nil {
		return err
	}
	engine := a.buildEngine(deps)
	tracker := alert.NewTracker(nil)
	sched := a.buildScheduler(deps, engine, tracker)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return ignoreCancel(sched.Run(gctx)) })
	a.startServer(gctx, g, deps, engine, tracker)
	return g.Wait()
}

func (a *App) buildPipeline(deps *Dependencies) (*pipeline.Orchestrator, error) {
	agg := a.cfg.Aggregator
	var units []pipeline.Unit
	for _, v := range a.cfg.EnabledVenues() {
		ag, err := aggregator.New(aggregator.Config{
			Source:           v.Name,
			WindowDuration:   agg.WindowDuration.Duration,
			WindowsPerMinute: agg.WindowsPerMinute,
		}, deps.SnapshotStore, time.Now(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: venue %s: %w", v.Name, err)
		}
		if deps.Archiver != nil {
			ag.SetArchiver(deps.Archiver)
		}

		actor := venue.New(venue.Config{
			Venue:         v.Name,
			FlushCheck:    agg.FlushCheck.Duration,
			PruneInterval: agg.PruneInterval.Duration,
			Retention:     agg.Retention.Duration,
			InboundBuffer: agg.InboundBuffer,
		}, ag, deps.PriceCache, deps.SignalBus, a.logger)

		f, err := a.buildFeed(v, deps, actor)
		if err != nil {
			return nil, err
		}
		units = append(units, pipeline.Unit{Actor: actor, Feeds: []feed.Feed{f}})
	}
	return pipeline.NewOrchestrator(units, a.logger), nil
}

func (a *App) buildFeed(v config.VenueConfig, deps *Dependencies, actor *venue.Actor) (feed.Feed, error) {
	name := v.Decoder
	if name == "" {
		name = "normalized"
	}
	dec, err := feed.LookupDecoder(name)
	if err != nil {
		return nil, fmt.Errorf("app: venue %s: %w", v.Name, err)
	}

	switch v.Transport {
	case "nats":
		if deps.NATS == nil {
			return nil, fmt.Errorf("app: venue %s: nats is not connected", v.Name)
		}
		return deps.NATS.Feed(v.Name, dec, actor.Inbound()), nil
	default:
		header := http.Header{}
		for k, val := range v.Headers {
			header.Set(k, val)
		}
		return feed.NewWSFeed(feed.WSConfig{
			Venue:             v.Name,
			URL:               v.URL,
			Decoder:           dec,
			Header:            header,
			Subscribe:         v.Subscribe,
			ReconnectDelay:    v.ReconnectDelay.Duration,
			MaxReconnectDelay: v.MaxReconnectDelay.Duration,
		}, actor.Inbound(), a.logger), nil
	}
}

func (a *App) buildEngine(deps *Dependencies) *arbitrage.Engine {
	return arbitrage.NewEngine(arbitrage.EngineConfig{
		Reader: deps.PriceReader,
		Logger: a.logger,
	})
}

func (a *App) buildScheduler(deps *Dependencies, engine *arbitrage.Engine, tracker *alert.Tracker) *alert.Scheduler {
	rules := make([]alert.Rule, 0, len(a.cfg.Alerts.Rules))
	for _, r := range a.cfg.Alerts.Rules {
		exchanges := r.Exchanges
		if len(exchanges) == 0 {
			exchanges = a.cfg.Arbitrage.Exchanges
		}
		rules = append(rules, alert.Rule{
			Name:             r.Name,
			Exchanges:        exchanges,
			Symbols:          r.Symbols,
			MinProfitPercent: r.MinProfitPercent,
			Cooldown:         r.Cooldown.Duration,
			Channels:         r.Channels,
		})
	}
	return alert.NewScheduler(alert.SchedulerConfig{
		Scanner:         engine,
		Tracker:         tracker,
		Dispatcher:      deps.Notify,
		Store:           deps.AlertStore,
		Bus:             deps.SignalBus,
		Locks:           deps.LockManager,
		Rules:           rules,
		Interval:        a.cfg.Alerts.Interval.Duration,
		CleanupInterval: a.cfg.Alerts.CleanupInterval.Duration,
		MaxAge:          a.cfg.Alerts.MaxAge.Duration,
		Logger:          a.logger,
	})
}

// startServer adds the HTTP server and, with a signal bus, the WebSocket
// hub to g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, engine *arbitrage.Engine, tracker *alert.Tracker) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Channels: []string{venue.PricesChannel, alert.ChannelName},
			Mode:     a.cfg.Mode,
		}, a.logger)
		g.Go(func() error { return ignoreCancel(hub.Run(ctx)) })
	}

	srv := server.NewServer(server.Config{
		Addr:        ":" + strconv.Itoa(a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Health, a.logger),
		Arb: handler.NewArbHandler(engine, handler.ArbDefaults{
			Exchanges:        a.cfg.Arbitrage.Exchanges,
			Symbols:          a.cfg.Arbitrage.Symbols,
			MinProfitPercent: a.cfg.Arbitrage.MinProfitPercent,
		}, a.logger),
		Alerts: handler.NewAlertHandler(tracker, deps.AlertStore, a.logger),
		Prices: handler.NewPriceHandler(deps.PriceCache, engine, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return srv.Run(ctx) })
}

// ignoreCancel maps the error of a loop stopped by cancellation to nil.
func ignoreCancel(err error) error {
	if err == nil || err == context.Canceled {
		return nil
	}
	return err
}
