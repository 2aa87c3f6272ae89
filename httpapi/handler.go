/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chainboard/go-fetchkit/log"
	"github.com/chainboard/go-fetchkit/orchestrator"
	"github.com/chainboard/go-fetchkit/ratelimit"
	"github.com/chainboard/go-fetchkit/taskqueue"
)

// ProviderFunc computes the payload that a provider serves for the requested resource.
// It must respect ctx cancellation to be abortable on timeout.
type ProviderFunc[V any] func(ctx context.Context, resource string) (V, error)

// ProviderHandlerOpts represents an options for the handler constructed by NewProviderHandler.
type ProviderHandlerOpts struct {
	// ErrorDomain is a domain for errors in responses.
	ErrorDomain string

	// Logger is used for structured logging. Disabled if nil.
	Logger log.FieldLogger

	// Priority is passed to the orchestrator for every request of this provider.
	Priority int

	// TTL overrides the orchestrator's default TTL for cached payloads. Zero means the default.
	TTL time.Duration

	// Timeout overrides the orchestrator's default compute timeout. Zero means the default.
	Timeout time.Duration
}

type providerHandler[V any] struct {
	orch     *orchestrator.Orchestrator[V]
	provider string
	fn       ProviderFunc[V]
	opts     ProviderHandlerOpts
}

// NewProviderHandler returns an http.Handler serving the provider's resources via the orchestrator.
//
// The resource is taken from the "resource" chi route parameter and together with the
// provider name forms the cache key. The rate budget is keyed by the client IP, so one
// client exhausting its budget does not affect the cached results served to others.
//
// Rejected requests get 429 with a Retry-After header (seconds, rounded up), compute
// timeouts get 504, other failures get 500. A successful payload is served as JSON.
func NewProviderHandler[V any](
	orch *orchestrator.Orchestrator[V], provider string, fn ProviderFunc[V], opts ProviderHandlerOpts,
) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &providerHandler[V]{orch: orch, provider: provider, fn: fn, opts: opts}
}

func (h *providerHandler[V]) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	cacheKey := h.provider
	if resource != "" {
		cacheKey += ":" + resource
	}

	val, err := h.orch.FetchOrCompute(r.Context(), orchestrator.Request[V]{
		CacheKey:     cacheKey,
		RateLimitKey: clientIP(r),
		Priority:     h.opts.Priority,
		TTL:          h.opts.TTL,
		Timeout:      h.opts.Timeout,
		Fn: func(ctx context.Context) (V, error) {
			return h.fn(ctx, resource)
		},
	})
	if err != nil {
		h.respondFetchError(rw, err)
		return
	}
	RespondJSON(rw, val, h.opts.Logger)
}

func (h *providerHandler[V]) respondFetchError(rw http.ResponseWriter, err error) {
	var rlErr *ratelimit.Error
	if errors.As(err, &rlErr) {
		rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rlErr.RetryAfter.Seconds()))))
		apiErr := NewError(h.opts.ErrorDomain, ErrCodeTooManyRequests, ErrMessageTooManyRequests)
		RespondError(rw, http.StatusTooManyRequests, apiErr, h.opts.Logger)
		return
	}

	var timeoutErr *taskqueue.TimeoutError
	if errors.As(err, &timeoutErr) {
		apiErr := NewError(h.opts.ErrorDomain, ErrCodeComputeTimeout, ErrMessageComputeTimeout)
		RespondError(rw, http.StatusGatewayTimeout, apiErr, h.opts.Logger)
		return
	}

	h.opts.Logger.Error("provider fetch failed", log.String("provider", h.provider), log.Error(err))
	RespondInternalError(rw, h.opts.ErrorDomain, h.opts.Logger)
}

func clientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
