package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWSFeedDeliversAndResets(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case subscribed <- string(msg):
		default:
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tick","symbol":"BTC","bid":100,"ask":101}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tick","symbol":"ETH","bid":10,"ask":11}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	defer srv.Close()

	out := make(chan domain.FeedEvent, 16)
	f := NewWSFeed(WSConfig{
		Venue:             "test",
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		Decoder:           DecodeNormalized,
		Subscribe:         []string{`{"op":"subscribe"}`},
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	}, out, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case msg := <-subscribed:
		if msg != `{"op":"subscribe"}` {
			t.Fatalf("subscribe = %q", msg)
		}
	case <-ctx.Done():
		t.Fatal("no subscribe message")
	}

	var got []domain.FeedEvent
	for len(got) < 3 {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-ctx.Done():
			t.Fatalf("events = %+v", got)
		}
	}
	if got[0].Symbol != "BTC" || got[1].Symbol != "ETH" {
		t.Fatalf("ticks = %+v", got[:2])
	}
	if got[2].Kind != domain.EventReset || got[2].Venue != "test" {
		t.Fatalf("third event = %+v", got[2])
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v", err)
	}
}

func TestWSFeedDialFailureDoesNotReset(t *testing.T) {
	out := make(chan domain.FeedEvent, 4)
	f := NewWSFeed(WSConfig{
		Venue:          "down",
		URL:            "ws://127.0.0.1:1/",
		Decoder:        DecodeNormalized,
		ReconnectDelay: 5 * time.Millisecond,
	}, out, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = f.Run(ctx)

	select {
	case ev := <-out:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestWSFeedBackoffResetsOnlyAfterStableSession(t *testing.T) {
	f := NewWSFeed(WSConfig{
		Venue:             "flappy",
		URL:               "ws://127.0.0.1:1/",
		Decoder:           DecodeNormalized,
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
		StableAfter:       30 * time.Second,
	}, nil, testLogger())

	delay := 2 * time.Second
	var waits []time.Duration
	for i := 0; i < 4; i++ {
		var wait time.Duration
		wait, delay = f.backoff(delay, true, 10*time.Millisecond)
		waits = append(waits, wait)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", waits, want)
		}
	}

	wait, next := f.backoff(delay, true, time.Minute)
	if wait != 2*time.Second || next != 4*time.Second {
		t.Fatalf("after stable session wait = %s next = %s", wait, next)
	}

	wait, _ = f.backoff(48*time.Second, false, 0)
	if wait != 48*time.Second {
		t.Fatalf("failed dial wait = %s", wait)
	}
	if _, next = f.backoff(48*time.Second, false, 0); next != 60*time.Second {
		t.Fatalf("next = %s, want cap 60s", next)
	}
}
