// Package pipeline runs the ingestion side of arbwatch: every venue actor
// together with the feeds that deliver into it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbwatch/internal/feed"
)

// Actor is a venue loop fed by one or more feeds.
type Actor interface {
	Run(ctx context.Context) error
	Venue() string
}

// Unit pairs an actor with the feeds delivering into it.
type Unit struct {
	Actor Actor
	Feeds []feed.Feed
}

// Orchestrator manages all ingestion goroutines.
type Orchestrator struct {
	units  []Unit
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator for units.
func NewOrchestrator(units []Unit, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		units:  units,
		logger: logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every actor and feed in an errgroup. A goroutine that fails
// for any reason other than cancellation cancels the others and its error
// is returned. A clean shutdown returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting", slog.Int("venues", len(o.units)))

	g, ctx := errgroup.WithContext(ctx)
	for _, u := range o.units {
		venue := u.Actor.Venue()
		g.Go(func() error {
			err := u.Actor.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("venue %s: %w", venue, err)
		})
		for _, f := range u.Feeds {
			g.Go(func() error {
				err := f.Run(ctx)
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("feed %s: %w", f.Venue(), err)
			})
		}
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
