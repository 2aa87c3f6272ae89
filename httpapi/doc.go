/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpapi provides a thin HTTP surface for serving orchestrated fetches:
// a JSON error model, response helpers, and a provider handler that translates
// orchestrator outcomes into HTTP status codes (429 for exhausted rate budgets
// with a Retry-After header, 504 for compute timeouts, 500 for other failures).
package httpapi
