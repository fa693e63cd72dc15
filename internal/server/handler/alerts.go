package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// RecentAlerts is the in-memory alert history.
type RecentAlerts interface {
	GetRecent(limit int) []domain.AlertEvent
}

// AlertLister reads persisted alerts.
type AlertLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.AlertEvent, error)
}

// AlertHandler serves the alert history endpoint.
type AlertHandler struct {
	recent RecentAlerts
	store  AlertLister
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler. store may be nil.
func NewAlertHandler(recent RecentAlerts, store AlertLister, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{recent: recent, store: store, logger: logger}
}

// ListRecent returns the newest alerts first. With source=store the
// persisted log is read instead of process memory.
// GET /api/alerts/recent?limit=20&source=memory|store
func (h *AlertHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 500)

	var events []domain.AlertEvent
	switch r.URL.Query().Get("source") {
	case "", "memory":
		if h.recent != nil {
			events = h.recent.GetRecent(limit)
		}
	case "store":
		if h.store == nil {
			writeError(w, http.StatusNotImplemented, "alert store not configured")
			return
		}
		var err error
		events, err = h.store.ListRecent(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list alerts failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list alerts")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "source must be memory or store")
		return
	}

	if events == nil {
		events = []domain.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": events})
}
