package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"homesnippets/internal/observability"
)

// fingerprintPath mirrors the client's snippet URL, one segment per attribute.
const fingerprintPath = "/{startpage_version}/{name}/{version}/{appbuildid}/{build_target}" +
	"/{locale}/{channel}/{os_version}/{distribution}/{distribution_version}"

func Router(h *DeliveryHandler, admin *AdminHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Timeout(2 * time.Second))

	r.Get(fingerprintPath, h.Snippets)
	r.Get("/preview"+fingerprintPath, h.PreviewSnippets)

	if admin != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Post("/rules", admin.CreateRule)
			r.Get("/rules/{id}", admin.GetRule)
			r.Put("/rules/{id}", admin.UpdateRule)
			r.Delete("/rules/{id}", admin.DeleteRule)

			r.Post("/snippets", admin.CreateSnippet)
			r.Get("/snippets/{id}", admin.GetSnippet)
			r.Put("/snippets/{id}", admin.UpdateSnippet)
			r.Delete("/snippets/{id}", admin.DeleteSnippet)
		})
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
