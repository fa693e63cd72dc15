package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/crypto"
	"github.com/alanyoungcy/arbwatch/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchResolvesChannelsByName(t *testing.T) {
	ok := &recordingSender{name: "console"}
	bad := &recordingSender{name: "webhook", err: errors.New("boom")}
	reg := NewRegistry(discardLogger(), ok, bad)

	attempts, err := reg.Dispatch(context.Background(), []string{"console", "webhook", "pager"}, "t", "m")
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if !errors.Is(err, domain.ErrUnknownChannel) {
		t.Fatalf("err = %v, want unknown channel", err)
	}
	if len(ok.titles) != 1 || len(bad.titles) != 1 {
		t.Fatal("every known channel should be attempted once")
	}
	if got := reg.Names(); strings.Join(got, ",") != "console,webhook" {
		t.Fatalf("names = %v", got)
	}
}

func TestConsoleSender(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleSender(&buf)
	if err := c.Send(context.Background(), "BTC", "buy alpha sell beta"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[BTC] buy alpha sell beta") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestWebhookSender(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, map[string]string{"Authorization": "Bearer x"})
	if err := s.Send(context.Background(), "title", "body"); err != nil {
		t.Fatal(err)
	}
	if got.Title != "title" || got.Message != "body" || auth != "Bearer x" {
		t.Fatalf("payload = %+v auth = %q", got, auth)
	}
}

func TestWebhookSenderSigns(t *testing.T) {
	signer := crypto.NewSigner("shh", nil)
	verified := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified <- signer.Verify(r.Header.Get(crypto.TimestampHeader), r.Header.Get(crypto.SignatureHeader), body, time.Minute)
	}))
	defer srv.Close()

	if err := NewWebhookSender(srv.URL, nil).WithSigner(signer).Send(context.Background(), "t", "m"); err != nil {
		t.Fatal(err)
	}
	if err := <-verified; err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p discordPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || len(p.Embeds) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL, "arbwatch").Send(context.Background(), "t", "m"); err != nil {
		t.Fatal(err)
	}

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer fail.Close()
	if err := NewDiscordSender(fail.URL, "").Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestTelegramSenderEscapesHTML(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "tok", "42")
	if err := s.Send(context.Background(), "A<B", "x & y"); err != nil {
		t.Fatal(err)
	}
	if path != "/bottok/sendMessage" {
		t.Fatalf("path = %q", path)
	}
	if got.ChatID != "42" || got.Text != "<b>A&lt;B</b>\nx &amp; y" || got.ParseMode != "HTML" {
		t.Fatalf("message = %+v", got)
	}
}
