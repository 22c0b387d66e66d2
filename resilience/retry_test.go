package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/kbukum/brokerpool/errors"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), DefaultRetryConfig(), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || result != "ok" {
		t.Fatalf("expected ok, got %q %v", result, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_RetriesConnectionFailures(t *testing.T) {
	calls := 0
	err := RetryFunc(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return errors.ConnectionFailed([]string{"b:9092"}, stderrors.New("refused"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := RetryFunc(context.Background(), fastRetry(), func() error {
		calls++
		return errors.SubscriptionFailed("orders", nil)
	})
	if !errors.HasCode(err, errors.ErrCodeSubscriptionFailed) {
		t.Fatalf("expected SUBSCRIPTION_FAILED, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := RetryFunc(context.Background(), fastRetry(), func() error {
		calls++
		return errors.SendFailed("t", nil)
	})
	if !errors.HasCode(err, errors.ErrCodeSendFailed) {
		t.Fatalf("expected SEND_FAILED, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second
	cfg.OnRetry = func(int, error, time.Duration) { cancel() }

	start := time.Now()
	err := RetryFunc(ctx, cfg, func() error {
		return errors.ConnectionFailed(nil, nil)
	})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("retry did not stop promptly on cancel")
	}
}

func TestRetryOnCode(t *testing.T) {
	retryIf := RetryOnCode(errors.ErrCodeConnectionFailed)
	if !retryIf(errors.ConnectionFailed(nil, nil)) {
		t.Error("expected CONNECTION_FAILED to be retried")
	}
	if retryIf(errors.SendFailed("t", nil)) {
		t.Error("expected SEND_FAILED to be skipped")
	}
}

func TestCalculateBackoff_Capped(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffFactor: 2}
	if got := calculateBackoff(1, cfg); got != 100*time.Millisecond {
		t.Errorf("attempt 1: got %v", got)
	}
	if got := calculateBackoff(2, cfg); got != 200*time.Millisecond {
		t.Errorf("attempt 2: got %v", got)
	}
	if got := calculateBackoff(5, cfg); got != 300*time.Millisecond {
		t.Errorf("attempt 5: got %v", got)
	}
}
