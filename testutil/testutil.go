/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil provides useful helpers for testing.
package testutil

type tHelper interface {
	Helper()
}
