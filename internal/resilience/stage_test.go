package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_PassesThroughSuccess(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, "asr", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithTimeout_WrapsDeadline(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "mt", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, ErrStageTimeout) {
		t.Fatalf("error = %v, want ErrStageTimeout", err)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout should report true for a stage deadline")
	}
}

func TestWithTimeout_PreservesStageErrors(t *testing.T) {
	stageErr := errors.New("model exploded")
	err := WithTimeout(context.Background(), time.Second, "tts", func(ctx context.Context) error {
		return stageErr
	})
	if !errors.Is(err, stageErr) {
		t.Fatalf("error = %v, want the stage's own error", err)
	}
	if IsTimeout(err) {
		t.Error("a plain stage error must not classify as timeout")
	}
}

func TestWithTimeout_ZeroDurationDisablesDeadline(t *testing.T) {
	err := WithTimeout(context.Background(), 0, "asr", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("no deadline expected when duration is zero")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsTimeout_ContextDeadline(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded should classify as timeout")
	}
	if IsTimeout(context.Canceled) {
		t.Error("context.Canceled is not a timeout")
	}
}
