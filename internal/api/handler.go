package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"homesnippets/internal/cache"
	"homesnippets/internal/engine"
	"homesnippets/internal/fingerprint"
	"homesnippets/internal/observability"
	"homesnippets/internal/storage"
)

// Finder is the read path the delivery handler depends on.
type Finder interface {
	FindEligibleContent(ctx context.Context, fp fingerprint.Fingerprint, preview bool, at time.Time) ([]engine.Content, error)
}

type DeliveryHandler struct {
	Eng Finder
	Now func() time.Time
}

func NewDeliveryHandler(eng Finder) *DeliveryHandler {
	return &DeliveryHandler{Eng: eng, Now: time.Now}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrBackingStoreUnavailable), errors.Is(err, cache.ErrUnavailable):
		status, kind = http.StatusServiceUnavailable, "unavailable"
	}
	observability.RequestErrors.WithLabelValues(kind).Inc()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// fingerprintFrom reads the attribute URL params in path order.
func fingerprintFrom(r *http.Request) fingerprint.Fingerprint {
	segs := make([]string, len(fingerprint.Attributes))
	for i, a := range fingerprint.Attributes {
		segs[i] = chi.URLParam(r, string(a))
	}
	return fingerprint.FromPath(segs)
}

func (h *DeliveryHandler) Snippets(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, false)
}

func (h *DeliveryHandler) PreviewSnippets(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, true)
}

func (h *DeliveryHandler) deliver(w http.ResponseWriter, r *http.Request, preview bool) {
	items, err := h.Eng.FindEligibleContent(r.Context(), fingerprintFrom(r), preview, h.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
