//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// RetryCondition determines whether an error is retryable.
type RetryCondition interface {
	Match(err error) bool
}

// RetryConditionFunc is an adapter to allow the use of
// ordinary functions as RetryCondition.
type RetryConditionFunc func(error) bool

// Match calls f(err).
func (f RetryConditionFunc) Match(err error) bool { return f(err) }

// RetryPolicy defines per-task or default retry configuration.
// Attempts are counted inclusive of the first try. For example,
// MaxAttempts=3 means 1 initial try + up to 2 retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	Jitter          bool
	// RetryOn restricts retries to matching errors. Empty means every error
	// that is not validation-class.
	RetryOn []RetryCondition

	// UnavailableInterval is the minimum delay after an error wrapping
	// provider.ErrProviderUnavailable; 0 to use the regular backoff.
	UnavailableInterval time.Duration
	// Optional total time budget across retries; 0 to disable.
	MaxElapsedTime time.Duration
}

// DefaultRetryPolicy retries twice with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		InitialInterval:     200 * time.Millisecond,
		BackoffFactor:       2.0,
		MaxInterval:         5 * time.Second,
		UnavailableInterval: time.Second,
	}
}

// NoRetry runs a task exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// NextDelay returns the backoff delay after the given attempt number.
// attempt starts at 1 for the first try.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialInterval)
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 1.0
	}
	if attempt > 1 {
		delay *= math.Pow(p.BackoffFactor, float64(attempt-1))
	}
	maxInt := p.MaxInterval
	if maxInt <= 0 {
		maxInt = p.InitialInterval
	}
	if maxInt > 0 {
		delay = math.Min(delay, float64(maxInt))
	}
	d := time.Duration(delay)
	if p.Jitter && d > 0 {
		// Additive jitter in [0, d). crypto/rand keeps gosec G404 quiet.
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// DelayFor returns the delay before retrying after err on the given attempt.
func (p RetryPolicy) DelayFor(attempt int, err error) time.Duration {
	d := p.NextDelay(attempt)
	if errors.Is(err, provider.ErrProviderUnavailable) && d < p.UnavailableInterval {
		d = p.UnavailableInterval
	}
	return d
}

// ShouldRetry reports whether err may be retried under the policy.
// Validation-class errors are never retried.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil || IsNonRetryable(err) {
		return false
	}
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, cond := range p.RetryOn {
		if cond != nil && cond.Match(err) {
			return true
		}
	}
	return false
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// IsNonRetryable reports whether err is validation-class: repeating the call
// cannot change the outcome.
func IsNonRetryable(err error) bool {
	return IsPermanent(err) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrTaskPanic) ||
		errors.Is(err, tool.ErrSchemaMismatch) ||
		errors.Is(err, tool.ErrUnknownTool) ||
		errors.Is(err, provider.ErrInvalidRequest) ||
		errors.Is(err, context.Canceled)
}

// RetryOnErrors creates a condition that matches when errors.Is(err, any target).
func RetryOnErrors(targets ...error) RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		for _, t := range targets {
			if t == nil {
				continue
			}
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// RetryOnPredicate creates a condition that defers matching to the provided function.
func RetryOnPredicate(match func(error) bool) RetryCondition {
	return RetryConditionFunc(func(err error) bool { return match(err) })
}

// DefaultTransientCondition matches transient failures: timeouts, provider
// unavailability and network errors.
func DefaultTransientCondition() RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		if err == nil {
			return false
		}
		if errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, ErrTaskTimeout) ||
			errors.Is(err, provider.ErrTimeout) ||
			errors.Is(err, provider.ErrProviderUnavailable) {
			return true
		}
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	})
}

// WithSimpleRetry is a convenience constructor for a jittered policy that
// retries transient failures only.
func WithSimpleRetry(attempts int) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		MaxAttempts:         attempts,
		InitialInterval:     500 * time.Millisecond,
		BackoffFactor:       2.0,
		MaxInterval:         8 * time.Second,
		Jitter:              true,
		RetryOn:             []RetryCondition{DefaultTransientCondition()},
		UnavailableInterval: time.Second,
	}
}
