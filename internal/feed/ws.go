package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
	defaultStableAfter       = 30 * time.Second
)

// WSConfig configures a WebSocket feed.
type WSConfig struct {
	Venue   string
	URL     string
	Decoder Decoder
	Header  http.Header

	// Subscribe messages are sent verbatim after every (re)connect.
	Subscribe []string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// StableAfter is how long a session must stay up before the backoff
	// returns to ReconnectDelay.
	StableAfter time.Duration
}

// WSFeed reads a venue WebSocket, reconnecting with exponential backoff.
// A Reset event is emitted after every disconnect so the actor discards
// book state built on the lost connection.
type WSFeed struct {
	cfg    WSConfig
	out    chan<- domain.FeedEvent
	dialer websocket.Dialer
	logger *slog.Logger
}

// NewWSFeed creates a feed delivering into out.
func NewWSFeed(cfg WSConfig, out chan<- domain.FeedEvent, logger *slog.Logger) *WSFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = defaultStableAfter
	}
	return &WSFeed{
		cfg:    cfg,
		out:    out,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "ws_feed"), slog.String("venue", cfg.Venue)),
	}
}

// Venue returns the venue name.
func (f *WSFeed) Venue() string { return f.cfg.Venue }

// Run connects and reads until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay
	for {
		began := time.Now()
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var wait time.Duration
		wait, delay = f.backoff(delay, connected, time.Since(began))
		if connected {
			if !emit(ctx, f.out, domain.FeedEvent{Kind: domain.EventReset, Venue: f.cfg.Venue, ReceivedAt: time.Now()}) {
				return ctx.Err()
			}
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", wait),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// backoff returns how long to wait before the next dial and the delay to
// carry into the attempt after it. Only a session that stayed up for
// StableAfter resets the delay; one dropped right after the dial keeps
// backing off.
func (f *WSFeed) backoff(delay time.Duration, connected bool, uptime time.Duration) (wait, next time.Duration) {
	if connected && uptime >= f.cfg.StableAfter {
		delay = f.cfg.ReconnectDelay
	}
	return delay, min(delay*2, f.cfg.MaxReconnectDelay)
}

// session runs one connection. connected reports whether the dial
// succeeded, which decides whether local state must be reset.
func (f *WSFeed) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, f.cfg.Header)
	if err != nil {
		return false, fmt.Errorf("feed: dial %s: %w", f.cfg.Venue, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(kind int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(kind, data)
	}

	for _, msg := range f.cfg.Subscribe {
		if err := write(websocket.TextMessage, []byte(msg)); err != nil {
			return true, fmt.Errorf("feed: subscribe %s: %w", f.cfg.Venue, err)
		}
	}
	f.logger.Info("feed connected", slog.String("url", f.cfg.URL))

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, errors.Join(domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		events, err := f.cfg.Decoder(raw, f.cfg.Venue, time.Now())
		if err != nil {
			f.logger.Warn("dropping undecodable message", slog.String("error", err.Error()))
			continue
		}
		for _, ev := range events {
			if !emit(ctx, f.out, ev) {
				return true, ctx.Err()
			}
		}
	}
}
