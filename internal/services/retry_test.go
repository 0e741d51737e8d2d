package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-backend/internal/repository"
)

func testPolicy() StorePolicy {
	return StorePolicy{Timeout: time.Second, MaxAttempts: 3, InitialInterval: time.Millisecond}
}

func TestCallStore_RetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := callStore(context.Background(), testPolicy(), "get", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestCallStore_ExhaustionIsStoreError(t *testing.T) {
	calls := 0
	cause := errors.New("connection refused")
	_, err := callStore(context.Background(), testPolicy(), "insert session", func(ctx context.Context) (int, error) {
		calls++
		return 0, cause
	})

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "insert session", storeErr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestCallStore_DomainErrorsAreNotRetried(t *testing.T) {
	for _, sentinel := range []error{repository.ErrNotFound, repository.ErrSessionClosed, repository.ErrActiveSession} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			calls := 0
			err := callStoreErr(context.Background(), testPolicy(), "op", func(ctx context.Context) error {
				calls++
				return fmt.Errorf("wrapped: %w", sentinel)
			})
			assert.ErrorIs(t, err, sentinel)
			var storeErr *StoreError
			assert.False(t, errors.As(err, &storeErr))
			assert.Equal(t, 1, calls)
		})
	}
}

func TestCallStore_AttemptTimeout(t *testing.T) {
	policy := StorePolicy{Timeout: 10 * time.Millisecond, MaxAttempts: 1}
	err := callStoreErr(context.Background(), policy, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
