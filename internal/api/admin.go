package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"homesnippets/internal/catalog"
	"homesnippets/internal/observability"
	"homesnippets/internal/storage"
)

// AdminHandler exposes rule and snippet CRUD as plain JSON. Every write goes
// through the catalog so caches see it.
type AdminHandler struct {
	Svc *catalog.Service
}

func NewAdminHandler(svc *catalog.Service) *AdminHandler {
	return &AdminHandler{Svc: svc}
}

func badRequest(w http.ResponseWriter, msg string) {
	observability.RequestErrors.WithLabelValues("bad_request").Inc()
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return false
	}
	return true
}

func (h *AdminHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rule, err := h.Svc.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *AdminHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule storage.MatchRule
	if !decode(w, r, &rule) {
		return
	}
	created, err := h.Svc.CreateRule(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *AdminHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var rule storage.MatchRule
	if !decode(w, r, &rule) {
		return
	}
	rule.ID = id
	if err := h.Svc.UpdateRule(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *AdminHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Svc.DeleteRule(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetSnippet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s, err := h.Svc.GetSnippet(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *AdminHandler) CreateSnippet(w http.ResponseWriter, r *http.Request) {
	var s storage.Snippet
	if !decode(w, r, &s) {
		return
	}
	created, err := h.Svc.CreateSnippet(r.Context(), s)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *AdminHandler) UpdateSnippet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var s storage.Snippet
	if !decode(w, r, &s) {
		return
	}
	s.ID = id
	if err := h.Svc.UpdateSnippet(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	updated, err := h.Svc.GetSnippet(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *AdminHandler) DeleteSnippet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Svc.DeleteSnippet(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
