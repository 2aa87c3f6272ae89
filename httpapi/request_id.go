/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"context"
	"net/http"

	"github.com/rs/xid"
)

const headerRequestID = "X-Request-ID"

type ctxKeyRequestID struct{}

// RequestIDOpts represents an options for RequestID middleware.
type RequestIDOpts struct {
	GenerateID func() string
}

// RequestID is a middleware that reads value of X-Request-ID request's HTTP header and generates new one if it's empty.
// The id is put into request's context and returned in HTTP response in X-Request-ID header.
// It's using xid (based on Mongo Object ID algorithm). This ID generator has high performance with pretty enough entropy.
func RequestID() func(next http.Handler) http.Handler {
	return RequestIDWithOpts(RequestIDOpts{GenerateID: func() string {
		return xid.New().String()
	}})
}

// RequestIDWithOpts is a more configurable version of RequestID middleware.
func RequestIDWithOpts(opts RequestIDOpts) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = opts.GenerateID()
			}
			rw.Header().Set(headerRequestID, requestID)
			ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, requestID)
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

// GetRequestIDFromContext extracts the request id from the context. Empty string is returned if it's not set.
func GetRequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return requestID
}
