package feed

import (
	"context"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Feed streams one venue's events until ctx ends.
type Feed interface {
	Run(ctx context.Context) error
	Venue() string
}

// emit delivers ev unless ctx ends first.
func emit(ctx context.Context, out chan<- domain.FeedEvent, ev domain.FeedEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
