package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// NATSConfig configures the shared NATS connection used by NATS feeds.
type NATSConfig struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// NATSSource owns one NATS connection shared by every NATS feed. After the
// client reconnects, each registered feed emits a Reset.
type NATSSource struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger

	mu          sync.Mutex
	onReconnect map[*NATSFeed]func()
}

// DialNATS connects to NATS. Connection failures at startup are retried in
// the background by the client.
func DialNATS(cfg NATSConfig, logger *slog.Logger) (*NATSSource, error) {
	s := &NATSSource{
		prefix:      cfg.SubjectPrefix,
		logger:      logger.With(slog.String("component", "nats_source")),
		onReconnect: make(map[*NATSFeed]func()),
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
			s.reconnected()
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			s.logger.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("feed: nats connect %s: %w", cfg.URL, err)
	}
	s.nc = nc
	return s, nil
}

// Close drains subscriptions and closes the connection.
func (s *NATSSource) Close() error {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("feed: nats drain: %w", err)
	}
	return nil
}

// Subject returns the subject carrying venue's messages.
func (s *NATSSource) Subject(venue string) string {
	if s.prefix == "" {
		return venue
	}
	return s.prefix + "." + venue
}

// Feed creates a feed for venue on this connection.
func (s *NATSSource) Feed(venue string, dec Decoder, out chan<- domain.FeedEvent) *NATSFeed {
	return &NATSFeed{
		src:     s,
		venue:   venue,
		subject: s.Subject(venue),
		decoder: dec,
		out:     out,
		logger:  s.logger.With(slog.String("venue", venue)),
	}
}

func (s *NATSSource) register(f *NATSFeed, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnect[f] = fn
}

func (s *NATSSource) unregister(f *NATSFeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.onReconnect, f)
}

func (s *NATSSource) reconnected() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.onReconnect))
	for _, fn := range s.onReconnect {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// NATSFeed subscribes to one venue subject.
type NATSFeed struct {
	src     *NATSSource
	venue   string
	subject string
	decoder Decoder
	out     chan<- domain.FeedEvent
	logger  *slog.Logger
}

// Venue returns the venue name.
func (f *NATSFeed) Venue() string { return f.venue }

// Run subscribes and blocks until ctx is cancelled.
func (f *NATSFeed) Run(ctx context.Context) error {
	f.src.register(f, func() {
		emit(ctx, f.out, domain.FeedEvent{Kind: domain.EventReset, Venue: f.venue, ReceivedAt: time.Now()})
	})
	defer f.src.unregister(f)

	sub, err := f.src.nc.Subscribe(f.subject, func(m *nats.Msg) {
		f.handle(ctx, m.Data)
	})
	if err != nil {
		return fmt.Errorf("feed: nats subscribe %s: %w", f.subject, err)
	}
	f.logger.Info("nats feed subscribed", slog.String("subject", f.subject))

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		f.logger.Debug("nats unsubscribe", slog.String("error", err.Error()))
	}
	return ctx.Err()
}

func (f *NATSFeed) handle(ctx context.Context, data []byte) {
	events, err := f.decoder(data, f.venue, time.Now())
	if err != nil {
		f.logger.Warn("dropping undecodable message", slog.String("error", err.Error()))
		return
	}
	for _, ev := range events {
		if !emit(ctx, f.out, ev) {
			return
		}
	}
}
