package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errLookupPending = errors.New("lookup pending")

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:      maxRetries,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.InitialInterval != 500*time.Millisecond {
		t.Errorf("InitialInterval = %v, want 500ms", config.InitialInterval)
	}
	if config.ShouldRetry != nil {
		t.Error("ShouldRetry should default to nil")
	}
}

func TestNew_WithZeroValues(t *testing.T) {
	config := &Config{JitterFactor: 3}
	retrier := New(config)

	if retrier.config.InitialInterval != 500*time.Millisecond {
		t.Errorf("InitialInterval = %v, want 500ms", retrier.config.InitialInterval)
	}
	if retrier.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %f, want 2.0", retrier.config.Multiplier)
	}
	if retrier.config.JitterFactor != 1 {
		t.Errorf("JitterFactor = %f, want 1", retrier.config.JitterFactor)
	}
	// caller's config is not mutated
	if config.InitialInterval != 0 {
		t.Errorf("caller config mutated: %v", config.InitialInterval)
	}
}

func TestRetrier_Do_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	result := New(fastConfig(5)).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errLookupPending
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetrier_Do_MaxRetriesExceeded(t *testing.T) {
	result := New(fastConfig(2)).Do(context.Background(), func(ctx context.Context) error {
		return errLookupPending
	})

	if !errors.Is(result.Err, ErrMaxRetriesExceeded) {
		t.Errorf("Err = %v, want ErrMaxRetriesExceeded", result.Err)
	}
	if !errors.Is(result.LastError, errLookupPending) {
		t.Errorf("LastError = %v, want errLookupPending", result.LastError)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetrier_Do_PermanentError(t *testing.T) {
	declined := errors.New("declined")
	attempts := 0
	result := New(fastConfig(5)).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(declined)
	})

	if !errors.Is(result.Err, declined) {
		t.Errorf("Err = %v, want declined", result.Err)
	}
	if attempts != 1 {
		t.Errorf("Operation called %d times, want 1", attempts)
	}
}

func TestRetrier_Do_ShouldRetryClassifier(t *testing.T) {
	notFound := errors.New("not found")
	cfg := fastConfig(5)
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, errLookupPending)
	}

	attempts := 0
	result := New(cfg).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return errLookupPending
		}
		return notFound
	})

	if !errors.Is(result.Err, notFound) {
		t.Errorf("Err = %v, want notFound", result.Err)
	}
	if attempts != 2 {
		t.Errorf("Operation called %d times, want 2", attempts)
	}
}

func TestRetrier_Do_RetryableOverridesClassifier(t *testing.T) {
	cfg := fastConfig(1)
	cfg.ShouldRetry = func(err error) bool { return false }

	attempts := 0
	result := New(cfg).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return Retryable(errLookupPending)
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if attempts != 2 {
		t.Errorf("Operation called %d times, want 2", attempts)
	}
}

func TestRetrier_Do_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(10)
	cfg.InitialInterval = time.Second
	cfg.MaxInterval = time.Second

	result := New(cfg).DoWithCallback(ctx, func(ctx context.Context) error {
		return errLookupPending
	}, func(attempt int, err error, next time.Duration) {
		cancel()
	})

	if !errors.Is(result.Err, ErrContextCanceled) {
		t.Errorf("Err = %v, want ErrContextCanceled", result.Err)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestRetrier_DoWithCallback(t *testing.T) {
	var seen []int
	New(fastConfig(2)).DoWithCallback(context.Background(), func(ctx context.Context) error {
		return errLookupPending
	}, func(attempt int, err error, next time.Duration) {
		seen = append(seen, attempt)
	})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("callback attempts = %v, want [1 2]", seen)
	}
}

func TestCalculateInterval_ExponentialBackoff(t *testing.T) {
	r := New(&Config{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     350 * time.Millisecond,
		Multiplier:      2.0,
	})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond}
	for attempt, w := range want {
		if got := r.calculateInterval(attempt); got != w {
			t.Errorf("attempt %d: interval = %v, want %v", attempt, got, w)
		}
	}
}

func TestRetryable_And_Permanent_Nil(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
