/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainboard/go-fetchkit/log"
)

// RouterOpts represents options for creating chi.Router.
type RouterOpts struct {
	// ErrorDomain is a domain for errors in responses.
	ErrorDomain string

	// Middlewares are applied to all routes. RequestID is always prepended.
	Middlewares []func(http.Handler) http.Handler

	// ProviderHandlers maps provider names to their handlers.
	// Each handler is mounted at GET /providers/{name} and GET /providers/{name}/{resource}.
	ProviderHandlers map[string]http.Handler

	// MetricsHandler overrides the handler of the /metrics endpoint. promhttp.Handler is used if nil.
	MetricsHandler http.Handler
}

// NewRouter creates a new chi.Router and performs its basic configuration:
// request id middleware, Prometheus metrics endpoint, health check endpoint,
// provider routes and JSON responses for unmatched requests.
func NewRouter(logger log.FieldLogger, opts RouterOpts) chi.Router {
	router := chi.NewRouter()

	router.Use(RequestID())
	router.Use(opts.Middlewares...)

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	router.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		RespondJSON(rw, map[string]string{"status": "ok"}, logger)
	})

	router.Route("/providers", func(router chi.Router) {
		for name, handler := range opts.ProviderHandlers {
			router.Method(http.MethodGet, "/"+name, handler)
			router.Method(http.MethodGet, "/"+name+"/{resource}", handler)
		}
	})

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := NewError(opts.ErrorDomain, ErrCodeNotFound, ErrMessageNotFound)
		RespondError(rw, http.StatusNotFound, apiErr, logger)
	})

	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := NewError(opts.ErrorDomain, ErrCodeMethodNotAllowed, ErrMessageMethodNotAllowed)
		RespondError(rw, http.StatusMethodNotAllowed, apiErr, logger)
	})

	return router
}
