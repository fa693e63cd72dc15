// Package notify delivers alert messages to named channels. Channel kinds
// are resolved through a Registry so new delivery kinds are added by
// registration rather than by editing a switch.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Sender is the interface that each delivery channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel name the sender is registered under.
	Name() string
}

// Registry maps channel names to Senders. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
	logger  *slog.Logger
}

// NewRegistry creates a Registry holding the given senders.
func NewRegistry(logger *slog.Logger, senders ...Sender) *Registry {
	r := &Registry{
		senders: make(map[string]Sender, len(senders)),
		logger:  logger.With(slog.String("component", "notify")),
	}
	for _, s := range senders {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the sender for s.Name().
func (r *Registry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Name()] = s
}

// Lookup returns the sender registered under name.
func (r *Registry) Lookup(name string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("notify: %q: %w", name, domain.ErrUnknownChannel)
	}
	return s, nil
}

// Names lists the registered channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.senders))
	for name := range r.senders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch sends the message to every named channel. It returns the number
// of delivery attempts made. Unknown channels are not attempted. A failing
// channel does not stop delivery to the rest; all failures are joined into
// the returned error.
func (r *Registry) Dispatch(ctx context.Context, channels []string, title, message string) (int, error) {
	var (
		attempts int
		errs     []error
	)
	for _, name := range channels {
		s, err := r.Lookup(name)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping channel", slog.String("channel", name), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		attempts++
		if err := s.Send(ctx, title, message); err != nil {
			r.logger.ErrorContext(ctx, "sender failed",
				slog.String("channel", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
			continue
		}
		r.logger.DebugContext(ctx, "notification sent",
			slog.String("channel", s.Name()),
			slog.String("title", title),
		)
	}
	return attempts, errors.Join(errs...)
}
