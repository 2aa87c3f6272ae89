/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")
var errPermanent = errors.New("permanent failure")

func TestDoWithRetry(t *testing.T) {
	t.Run("retries until success", func(t *testing.T) {
		attempts := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), nil, nil,
			func(ctx context.Context) error {
				attempts++
				if attempts < 3 {
					return errTransient
				}
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		attempts := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 2), nil, nil,
			func(ctx context.Context) error {
				attempts++
				return errTransient
			})
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, 3, attempts) // initial attempt + 2 retries
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		isRetryable := func(err error) bool { return errors.Is(err, errTransient) }
		attempts := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), isRetryable, nil,
			func(ctx context.Context) error {
				attempts++
				return errPermanent
			})
		require.ErrorIs(t, err, errPermanent)
		require.Equal(t, 1, attempts)
	})

	t.Run("canceled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := DoWithRetry(ctx, NewConstantBackoffPolicy(10*time.Millisecond, 100), nil, nil,
			func(fnCtx context.Context) error {
				attempts++
				cancel()
				return errTransient
			})
		require.Error(t, err)
		require.Equal(t, 1, attempts)
	})
}

func TestNewComputeFn(t *testing.T) {
	t.Run("returns value of first successful attempt", func(t *testing.T) {
		attempts := 0
		fn := NewComputeFn(NewConstantBackoffPolicy(time.Millisecond, 5), nil,
			func(ctx context.Context) (string, error) {
				attempts++
				if attempts < 2 {
					return "", errTransient
				}
				return "payload", nil
			})
		val, err := fn(context.Background())
		require.NoError(t, err)
		require.Equal(t, "payload", val)
		require.Equal(t, 2, attempts)
	})

	t.Run("zero value on failure", func(t *testing.T) {
		fn := NewComputeFn(NewConstantBackoffPolicy(time.Millisecond, 1), nil,
			func(ctx context.Context) (int, error) {
				return 42, errTransient
			})
		val, err := fn(context.Background())
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, 0, val)
	})
}

func TestExponentialBackoffPolicy(t *testing.T) {
	attempts := 0
	err := DoWithRetry(context.Background(), NewExponentialBackoffPolicy(time.Millisecond, 3), nil, nil,
		func(ctx context.Context) error {
			attempts++
			return errTransient
		})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 4, attempts)
}
