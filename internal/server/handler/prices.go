package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// LatestPricer reads the newest persisted price per symbol.
type LatestPricer interface {
	LatestPrices(ctx context.Context, exchange string, g domain.Granularity, symbols []string) ([]domain.ExchangePrice, error)
}

// PriceHandler serves per-exchange latest prices, from the cache when one is
// configured and from the store otherwise.
type PriceHandler struct {
	cache  domain.PriceCache
	store  LatestPricer
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler. cache may be nil.
func NewPriceHandler(cache domain.PriceCache, store LatestPricer, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{cache: cache, store: store, logger: logger}
}

// Get returns the latest prices for one exchange.
// GET /api/prices/{exchange}?symbols=BTCUSDT,ETHUSDT
func (h *PriceHandler) Get(w http.ResponseWriter, r *http.Request) {
	exchange := r.PathValue("exchange")
	if exchange == "" {
		writeError(w, http.StatusBadRequest, "missing exchange")
		return
	}
	symbols := listParam(r, "symbols")

	prices, source, err := h.lookup(r.Context(), exchange, symbols)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: latest prices failed",
			slog.String("exchange", exchange),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load prices")
		return
	}
	if len(prices) == 0 {
		writeError(w, http.StatusNotFound, "no prices for "+exchange)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": exchange,
		"source":   source,
		"prices":   prices,
	})
}

func (h *PriceHandler) lookup(ctx context.Context, exchange string, symbols []string) ([]domain.ExchangePrice, string, error) {
	if h.cache != nil {
		prices, err := h.cache.GetPrices(ctx, exchange)
		switch {
		case err == nil:
			return filterSymbols(prices, symbols), "cache", nil
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.WarnContext(ctx, "handler: price cache read failed, using store",
				slog.String("error", err.Error()),
			)
		}
	}
	if h.store == nil {
		return nil, "", nil
	}
	prices, err := h.store.LatestPrices(ctx, exchange, domain.GranularitySnapshot, symbols)
	return prices, "store", err
}

func filterSymbols(prices []domain.ExchangePrice, symbols []string) []domain.ExchangePrice {
	if len(symbols) == 0 {
		return prices
	}
	out := prices[:0:0]
	for _, p := range prices {
		if slices.Contains(symbols, p.Symbol) {
			out = append(out, p)
		}
	}
	return out
}
