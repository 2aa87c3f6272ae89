/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainboard/go-fetchkit/config"
	"github.com/chainboard/go-fetchkit/orchestrator"
	"github.com/chainboard/go-fetchkit/testutil"
)

const testErrorDomain = "TestService"

func newTestOrchestrator(t *testing.T, opts orchestrator.Opts) *orchestrator.Orchestrator[string] {
	t.Helper()
	cfg := orchestrator.NewDefaultConfig()
	cfg.DefaultTimeout = config.TimeDuration(5 * time.Second)
	orch, err := orchestrator.NewWithOpts[string](cfg, opts)
	require.NoError(t, err)
	t.Cleanup(orch.Close)
	return orch
}

func decodeErrorResponse(t *testing.T, resp *httptest.ResponseRecorder) *Error {
	t.Helper()
	var respData ErrorResponseData
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &respData))
	require.NotNil(t, respData.Err)
	return respData.Err
}

func TestProviderHandlerServesPayload(t *testing.T) {
	orch := newTestOrchestrator(t, orchestrator.Opts{})
	handler := NewProviderHandler[string](orch, "reports", func(ctx context.Context, resource string) (string, error) {
		return "payload for " + resource, nil
	}, ProviderHandlerOpts{ErrorDomain: testErrorDomain})

	router := NewRouter(nil, RouterOpts{
		ErrorDomain:      testErrorDomain,
		ProviderHandlers: map[string]http.Handler{"reports": handler},
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/providers/reports/weekly", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, ContentTypeAppJSON, resp.Header().Get("Content-Type"))
	require.Equal(t, `"payload for weekly"`, resp.Body.String())
	require.NotEmpty(t, resp.Header().Get("X-Request-ID"))
}

func TestProviderHandlerRateLimited(t *testing.T) {
	tests := []struct {
		name               string
		retryAfter         time.Duration
		expectedRetryAfter string
	}{
		{name: "whole seconds", retryAfter: 90 * time.Second, expectedRetryAfter: "90"},
		{name: "fractional seconds are rounded up", retryAfter: 1500 * time.Millisecond, expectedRetryAfter: "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := newTestOrchestrator(t, orchestrator.Opts{
				Limiter: rejectingLimiter{retryAfter: tt.retryAfter},
			})
			handler := NewProviderHandler[string](orch, "reports", func(ctx context.Context, resource string) (string, error) {
				return "", nil
			}, ProviderHandlerOpts{ErrorDomain: testErrorDomain})

			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/providers/reports", nil))

			testutil.RequireErrorInRecorder(t, resp, http.StatusTooManyRequests, testErrorDomain, ErrCodeTooManyRequests)
			require.Equal(t, tt.expectedRetryAfter, resp.Header().Get("Retry-After"))
		})
	}
}

func TestProviderHandlerComputeTimeout(t *testing.T) {
	orch := newTestOrchestrator(t, orchestrator.Opts{})
	handler := NewProviderHandler[string](orch, "reports", func(ctx context.Context, resource string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	}, ProviderHandlerOpts{ErrorDomain: testErrorDomain, Timeout: 50 * time.Millisecond})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/providers/reports", nil))

	testutil.RequireErrorInRecorder(t, resp, http.StatusGatewayTimeout, testErrorDomain, ErrCodeComputeTimeout)
}

func TestProviderHandlerComputeError(t *testing.T) {
	orch := newTestOrchestrator(t, orchestrator.Opts{})
	handler := NewProviderHandler[string](orch, "reports", func(ctx context.Context, resource string) (string, error) {
		return "", errors.New("upstream unavailable")
	}, ProviderHandlerOpts{ErrorDomain: testErrorDomain})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/providers/reports", nil))

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	apiErr := decodeErrorResponse(t, resp)
	require.Equal(t, ErrCodeInternal, apiErr.Code)
	require.Equal(t, ErrMessageInternal, apiErr.Message)
}

func TestRouterUnmatchedRequests(t *testing.T) {
	router := NewRouter(nil, RouterOpts{ErrorDomain: testErrorDomain})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	testutil.RequireErrorInRecorder(t, resp, http.StatusNotFound, testErrorDomain, ErrCodeNotFound)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	testutil.RequireErrorInRecorder(t, resp, http.StatusMethodNotAllowed, testErrorDomain, ErrCodeMethodNotAllowed)
}

func TestRouterHealthCheck(t *testing.T) {
	router := NewRouter(nil, RouterOpts{ErrorDomain: testErrorDomain})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

type rejectingLimiter struct {
	retryAfter time.Duration
}

func (l rejectingLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	return false, l.retryAfter, nil
}
