// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package retry provides a shared exponential-backoff-with-jitter helper
// for the two places in the importer that call an unreliable external
// process: pkg/polygonapi's HTTP calls to the Polygon REST service, and
// pkg/statement's pandoc subprocess invocation.
package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// Config controls retry attempts and backoff growth.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultConfig returns sane defaults: 3 attempts, 200ms initial backoff
// doubling up to a 2s cap.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
}

// Sanitize replaces zero/invalid values with DefaultConfig's, so a caller
// can pass a partially-zero Config without producing a busy loop.
func (c Config) Sanitize() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = 2.0
	}
	return c
}

// Classifier decides whether an error returned by the operation is worth
// retrying.
type Classifier func(err error) bool

// Do runs op up to cfg.MaxRetries times, sleeping with exponential
// backoff and full jitter between attempts. onRetry, if non-nil, is
// called before each sleep with the attempt number (0-indexed) and the
// error that triggered the retry — callers use it to log and to bump a
// metrics counter. Do stops retrying as soon as classify returns false
// or the context is canceled.
func Do(ctx context.Context, cfg Config, classify Classifier, onRetry func(attempt int, sleep time.Duration, err error), op func() error) error {
	cfg = cfg.Sanitize()

	var err error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !classify(err) || attempt == cfg.MaxRetries-1 {
			return err
		}
		sleep := computeBackoffWithJitter(cfg.InitialBackoff, attempt, cfg.Multiplier, cfg.MaxBackoff)
		if onRetry != nil {
			onRetry(attempt, sleep, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}

// IsRetryableNetworkError classifies transport failures and HTTP 5xx/429
// responses as retryable. It is text-based, matching the approach used
// elsewhere in this codebase to avoid coupling to a specific transport's
// error types.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "temporarily unavailable", "connection refused", "connection reset", "deadline exceeded", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	for _, s := range []string{" 429", " 500", " 502", " 503", " 504"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// computeBackoffWithJitter returns exponential backoff with full jitter:
// exp = base * mult^attempt, capped at capDur, then a uniform random
// duration in [0, exp] is returned.
func computeBackoffWithJitter(base time.Duration, attempt int, mult float64, capDur time.Duration) time.Duration {
	exp := float64(base)
	for i := 0; i < attempt; i++ {
		exp *= mult
	}
	d := time.Duration(exp)
	if d > capDur {
		d = capDur
	}
	if d <= 0 {
		return base
	}
	return time.Duration(rand.Int63n(int64(d)))
}
