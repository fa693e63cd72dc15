package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/alert"
	"github.com/alanyoungcy/arbwatch/internal/arbitrage"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/server/handler"
	"github.com/alanyoungcy/arbwatch/internal/store/memory"
)

var ts0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snap(source, symbol string, bid, ask float64) domain.Snapshot {
	return domain.Snapshot{Source: source, Symbol: symbol, Timestamp: ts0, AvgBid: &bid, AvgAsk: &ask, TickCount: 1}
}

type denyLimiter struct{ calls int }

func (l *denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.calls++
	return false, nil
}

func newTestRoutes(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.Pinger) (http.Handler, *alert.Tracker) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	if err := store.InsertSnapshots(ctx, "alpha", []domain.Snapshot{snap("alpha", "BTC", 100, 101)}); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertSnapshots(ctx, "beta", []domain.Snapshot{snap("beta", "BTC", 105, 106)}); err != nil {
		t.Fatal(err)
	}

	logger := discardLogger()
	engine := arbitrage.NewEngine(arbitrage.EngineConfig{
		Reader: store,
		Logger: logger,
		Now:    func() time.Time { return ts0.Add(5 * time.Second) },
	})
	tracker := alert.NewTracker(func() time.Time { return ts0 })

	h := Routes(cfg, Handlers{
		Health: handler.NewHealthHandler("server", checks, logger),
		Arb:    handler.NewArbHandler(engine, handler.ArbDefaults{Exchanges: []string{"alpha", "beta"}}, logger),
		Alerts: handler.NewAlertHandler(tracker, store, logger),
		Prices: handler.NewPriceHandler(nil, engine, logger),
	}, nil, limiter, logger)
	return h, tracker
}

func get(t *testing.T, h http.Handler, target string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestArbitrageScan(t *testing.T) {
	h, _ := newTestRoutes(t, Config{}, nil, nil)

	rec := get(t, h, "/api/arbitrage")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var body struct {
		Opportunities []domain.Opportunity `json:"opportunities"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Opportunities) != 1 {
		t.Fatalf("opportunities = %+v", body.Opportunities)
	}
	o := body.Opportunities[0]
	if o.BuyFrom != "alpha" || o.SellTo != "beta" || o.Profit != 4 || o.DataAge != 5*time.Second {
		t.Fatalf("opportunity = %+v", o)
	}

	if rec := get(t, h, "/api/arbitrage?min_profit=5"); rec.Code != http.StatusOK || rec.Body.String() != `{"opportunities":[]}` {
		t.Fatalf("thresholded: %d %s", rec.Code, rec.Body)
	}
}

func TestArbitrageBadRequests(t *testing.T) {
	h, _ := newTestRoutes(t, Config{}, nil, nil)

	cases := []string{
		"/api/arbitrage?exchanges=alpha",
		"/api/arbitrage?min_profit=lots",
		"/api/arbitrage/history",
		"/api/arbitrage/history?symbol=BTC&from=yesterday",
	}
	for _, target := range cases {
		if rec := get(t, h, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d body = %s", target, rec.Code, rec.Body)
		}
	}
}

func TestArbitrageHistory(t *testing.T) {
	h, _ := newTestRoutes(t, Config{}, nil, nil)

	rec := get(t, h, "/api/arbitrage/history?symbol=BTC&granularity=snapshot&from=2026-05-01T09:00:00Z&to=2026-05-01T11:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var body struct {
		Points []domain.HistoricalPoint `json:"points"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Points) != 2 {
		t.Fatalf("points = %+v", body.Points)
	}
}

func TestPrices(t *testing.T) {
	h, _ := newTestRoutes(t, Config{}, nil, nil)

	rec := get(t, h, "/api/prices/alpha")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var body struct {
		Source string                 `json:"source"`
		Prices []domain.ExchangePrice `json:"prices"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Source != "store" || len(body.Prices) != 1 || body.Prices[0].Bid != 100 {
		t.Fatalf("body = %+v", body)
	}

	if rec := get(t, h, "/api/prices/gamma"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown exchange status = %d", rec.Code)
	}
}

func TestRecentAlerts(t *testing.T) {
	h, tracker := newTestRoutes(t, Config{}, nil, nil)
	for _, sym := range []string{"BTC", "ETH", "SOL"} {
		tracker.AddToHistory(domain.AlertEvent{ID: sym, Symbol: sym, SentAt: ts0})
	}

	rec := get(t, h, "/api/alerts/recent?limit=2")
	var body struct {
		Alerts []domain.AlertEvent `json:"alerts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Alerts) != 2 || body.Alerts[0].Symbol != "SOL" {
		t.Fatalf("alerts = %+v", body.Alerts)
	}

	if rec := get(t, h, "/api/alerts/recent?source=store"); rec.Code != http.StatusOK || rec.Body.String() != `{"alerts":[]}` {
		t.Fatalf("store source: %d %s", rec.Code, rec.Body)
	}
	if rec := get(t, h, "/api/alerts/recent?source=disk"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad source status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestRoutes(t, Config{}, nil, map[string]handler.Pinger{
		"postgres": handler.PingFunc(func(context.Context) error { return nil }),
	})
	if rec := get(t, h, "/api/health"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	h, _ = newTestRoutes(t, Config{}, nil, map[string]handler.Pinger{
		"redis": handler.PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
	})
	rec := get(t, h, "/api/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.Components["redis"] == "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestAuth(t *testing.T) {
	h, _ := newTestRoutes(t, Config{APIKey: "s3cret"}, nil, nil)

	if rec := get(t, h, "/api/arbitrage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := get(t, h, "/api/arbitrage", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	if rec := get(t, h, "/api/arbitrage", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d", rec.Code)
	}
	if rec := get(t, h, "/api/arbitrage", "X-API-Key", "s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("api key status = %d", rec.Code)
	}
	if rec := get(t, h, "/api/health"); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := &denyLimiter{}
	h, _ := newTestRoutes(t, Config{RateLimit: 10, RateWindow: 2 * time.Second}, limiter, nil)

	rec := get(t, h, "/api/arbitrage")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("status = %d retry = %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if limiter.calls != 1 {
		t.Fatalf("limiter calls = %d", limiter.calls)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRoutes(t, Config{CORSOrigins: []string{"https://dash.example"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/arbitrage", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://dash.example" {
		t.Fatalf("status = %d headers = %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin was echoed")
	}
}
