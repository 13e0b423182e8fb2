// Package httptransport exposes the oasis services over HTTP.
//
// Four surfaces hang off one router: the bearer-authenticated admin API
// under /admin, the bearer-authenticated CI import endpoint under /ci, the
// X-API-Key-authenticated SDK ingest endpoints under /sdk, and the
// unauthenticated update and download endpoints under /{slug}. Services
// report typed errors; translation to HTTP status codes happens here and
// nowhere else.
package httptransport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oasishq/oasis/auth"
	"github.com/oasishq/oasis/catalog"
	"github.com/oasishq/oasis/ingest"
	"github.com/oasishq/oasis/updates"
)

// Request body caps. Crash submissions carry stack traces and breadcrumb
// trails, so they get more headroom than everything else.
const (
	maxBodyBytes  = 1 << 20
	maxCrashBytes = 5 << 20
)

// Opts carries the services a Server routes to.
type Opts struct {
	Auth    *auth.Service
	Catalog *catalog.Service
	Updates *updates.Service
	Ingest  *ingest.Service
	// Ready is polled by the health endpoint when set. Nil means the
	// endpoint reports liveness only.
	Ready func(context.Context) error
}

// New assembles the router. The returned handler is safe for concurrent
// use and holds no state beyond the services themselves.
func New(opts Opts) (http.Handler, error) {
	switch {
	case opts.Auth == nil:
		return nil, fmt.Errorf("httptransport: no auth service provided")
	case opts.Catalog == nil:
		return nil, fmt.Errorf("httptransport: no catalog service provided")
	case opts.Updates == nil:
		return nil, fmt.Errorf("httptransport: no updates service provided")
	case opts.Ingest == nil:
		return nil, fmt.Errorf("httptransport: no ingest service provided")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverer)
	r.Use(instrumentHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthz(opts.Ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	adm := &adminAPI{
		auth:    opts.Auth,
		catalog: opts.Catalog,
		ingest:  opts.Ingest,
	}
	r.Route("/admin", adm.Register)

	ci := &ciAPI{auth: opts.Auth, catalog: opts.Catalog}
	r.Route("/ci", ci.Register)

	sdk := &sdkAPI{auth: opts.Auth, catalog: opts.Catalog, ingest: opts.Ingest}
	r.Route("/sdk/{slug}", sdk.Register)

	// Static prefixes above win over the slug parameter, so an app named
	// "admin" or "sdk" is unreachable here. Slug routes go last.
	pub := &publicAPI{updates: opts.Updates}
	r.Route("/{slug}", pub.Register)

	return r, nil
}

func healthz(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeJSON(r.Context(), w, http.StatusServiceUnavailable, &errorResponse{
					Code:    "unavailable",
					Message: err.Error(),
				})
				return
			}
		}
		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
