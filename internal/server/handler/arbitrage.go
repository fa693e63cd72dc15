package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/arbwatch/internal/arbitrage"
	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// ArbEngine defines the methods the arbitrage handler requires.
type ArbEngine interface {
	Scan(ctx context.Context, req arbitrage.ScanRequest) ([]domain.Opportunity, error)
	HistoricalArbitrage(ctx context.Context, req arbitrage.HistoryRequest) ([]domain.HistoricalPoint, error)
}

// ArbDefaults fill query parameters the caller leaves out.
type ArbDefaults struct {
	Exchanges        []string
	Symbols          []string
	MinProfitPercent float64
}

// ArbHandler serves arbitrage-related HTTP endpoints.
type ArbHandler struct {
	engine   ArbEngine
	defaults ArbDefaults
	logger   *slog.Logger
}

// NewArbHandler creates an ArbHandler backed by engine.
func NewArbHandler(engine ArbEngine, defaults ArbDefaults, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{engine: engine, defaults: defaults, logger: logger}
}

type scanResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// Scan returns current opportunities across exchanges.
// GET /api/arbitrage?exchanges=binance,kraken&symbols=BTCUSDT&min_profit=0.1&granularity=snapshot
func (h *ArbHandler) Scan(w http.ResponseWriter, r *http.Request) {
	req := arbitrage.ScanRequest{
		Exchanges:        listParam(r, "exchanges"),
		Symbols:          listParam(r, "symbols"),
		MinProfitPercent: h.defaults.MinProfitPercent,
		Granularity:      domain.Granularity(r.URL.Query().Get("granularity")),
	}
	if len(req.Exchanges) == 0 {
		req.Exchanges = h.defaults.Exchanges
	}
	if len(req.Symbols) == 0 {
		req.Symbols = h.defaults.Symbols
	}
	if v := r.URL.Query().Get("min_profit"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_profit must be a number")
			return
		}
		req.MinProfitPercent = p
	}

	opps, err := h.engine.Scan(r.Context(), req)
	if err != nil {
		h.fail(w, r, "scan", err)
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, scanResponse{Opportunities: opps})
}

type historyResponse struct {
	Symbol string                   `json:"symbol"`
	Points []domain.HistoricalPoint `json:"points"`
}

// History replays arbitrage for one symbol over a time range.
// GET /api/arbitrage/history?symbol=BTCUSDT&from=2026-01-01T00:00:00Z&to=...&exchanges=a,b
func (h *ArbHandler) History(w http.ResponseWriter, r *http.Request) {
	from, err := timeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := arbitrage.HistoryRequest{
		Exchanges:   listParam(r, "exchanges"),
		Symbol:      r.URL.Query().Get("symbol"),
		From:        from,
		To:          to,
		Granularity: domain.Granularity(r.URL.Query().Get("granularity")),
	}
	if len(req.Exchanges) == 0 {
		req.Exchanges = h.defaults.Exchanges
	}

	points, err := h.engine.HistoricalArbitrage(r.Context(), req)
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}
	if points == nil {
		points = []domain.HistoricalPoint{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Symbol: req.Symbol, Points: points})
}

func (h *ArbHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientExchanges),
		errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: arbitrage "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute arbitrage")
	}
}
