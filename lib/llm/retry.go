// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/foreman-chat/foreman/lib/clock"
)

// RetryPolicy controls how [CallWithRetry] spaces repeated attempts.
// Zero fields take the defaults noted per field.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries. Default 3.
	MaxAttempts int

	// BaseDelay is the sleep after the first failure. Default 1s;
	// callers with a configured request rate typically use the token
	// interval so a retry does not immediately re-hit the limit.
	BaseDelay time.Duration

	// Multiplier grows the delay each attempt. Default 2; rate-limit
	// errors double it again.
	Multiplier float64

	// MaxDelay caps a single sleep. Default 5m; rate-limit errors
	// double it.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the standard policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    5 * time.Minute,
	}
}

func (policy RetryPolicy) withDefaults() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaults.BaseDelay
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = defaults.Multiplier
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaults.MaxDelay
	}
	return policy
}

// delay returns the sleep after the given failed attempt (1-based).
func (policy RetryPolicy) delay(attempt int, rateLimited bool) time.Duration {
	multiplier := policy.Multiplier
	maxDelay := policy.MaxDelay
	if rateLimited {
		multiplier *= 2
		maxDelay *= 2
	}

	delay := time.Duration(float64(policy.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Transient reports whether retrying after err can help. Provider
// errors answer for themselves; context cancellation never retries;
// anything else is a transport failure and worth another try.
func Transient(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// CallWithRetry runs fn up to policy.MaxAttempts times, passing each
// attempt through the gate first and sleeping with exponential
// backoff between failures. Fatal errors (see [Transient]) abort
// immediately with the cause. The sleep observes ctx, so a stopped
// run never waits out a backoff.
func CallWithRetry(ctx context.Context, clk clock.Clock, policy RetryPolicy, gate *Gate, logger *slog.Logger, fn func(context.Context) (*Response, error)) (string, error) {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := gate.Wait(ctx); err != nil {
			return "", err
		}

		response, err := fn(ctx)
		if err == nil {
			return response.Text, nil
		}
		lastErr = err

		if !Transient(err) {
			return "", err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.delay(attempt, rateLimited(err))
		logger.Warn("provider call failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", err)
		if err := clk.Sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("llm: %d attempts failed: %w", policy.MaxAttempts, lastErr)
}

func rateLimited(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.IsRateLimited()
}
