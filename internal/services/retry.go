package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"engagement-backend/internal/repository"
)

// StorePolicy bounds every store call: a per-attempt timeout and a small
// number of attempts with exponential backoff between them.
type StorePolicy struct {
	Timeout         time.Duration
	MaxAttempts     uint
	InitialInterval time.Duration
}

func DefaultStorePolicy() StorePolicy {
	return StorePolicy{
		Timeout:         5 * time.Second,
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
	}
}

func (p StorePolicy) backOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         time.Second,
	}
}

// callStore runs fn under the policy. Domain outcomes (not found, closed
// session, conflicts) are returned as-is without retrying; anything else is
// retried and finally surfaced as a *StoreError.
func callStore[T any](ctx context.Context, p StorePolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		v, err := fn(callCtx)
		if err != nil && isPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(p.backOff()), backoff.WithMaxTries(attempts))
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if isPermanent(err) {
		return res, err
	}
	return res, &StoreError{Op: op, Err: err}
}

func callStoreErr(ctx context.Context, p StorePolicy, op string, fn func(ctx context.Context) error) error {
	_, err := callStore(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func isPermanent(err error) bool {
	return errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrSessionClosed) ||
		errors.Is(err, repository.ErrActiveSession) ||
		errors.Is(err, repository.ErrDuplicateUsername)
}

// newSessionID returns 48 hex characters from 24 random bytes.
func newSessionID() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
