// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), IsRetryableNetworkError, nil, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	cfg := Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
	var retried int
	err := Do(context.Background(), cfg, IsRetryableNetworkError, func(attempt int, sleep time.Duration, err error) {
		retried++
	}, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if retried != 2 {
		t.Fatalf("retried = %d, want 2", retried)
	}
}

func TestDo_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
	err := Do(context.Background(), cfg, IsRetryableNetworkError, nil, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() error = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (should not retry non-retryable error)", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	cfg := Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
	err := Do(context.Background(), cfg, IsRetryableNetworkError, nil, func() error {
		calls++
		return errors.New("timeout")
	})
	if err == nil {
		t.Fatal("Do() error = nil, want non-nil after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	calls := 0
	cancel()
	err := Do(ctx, cfg, IsRetryableNetworkError, nil, func() error {
		calls++
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
}

func TestConfig_Sanitize(t *testing.T) {
	got := Config{}.Sanitize()
	want := DefaultConfig()
	if got != want {
		t.Errorf("Sanitize() = %+v, want %+v", got, want)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("context deadline exceeded (Client.Timeout exceeded while awaiting headers)"), true},
		{"http 503", errors.New("polygon api returned status 503 Service Unavailable"), true},
		{"http 429", errors.New("polygon api returned status 429 Too Many Requests"), true},
		{"http 400", errors.New("polygon api returned status 400 Bad Request"), false},
		{"malformed json", errors.New("unexpected end of JSON input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableNetworkError(tt.err); got != tt.want {
				t.Errorf("IsRetryableNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
