package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// flakyProvider fails the first failures attempts with err.
type flakyProvider struct {
	failures int
	err      error
	calls    int
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	f.calls++
	fail := f.calls <= f.failures
	return newEventStream(ctx, func(ctx context.Context, out chan<- Event) error {
		out <- Event{Type: EventTextDelta, Text: "partial "}
		if fail {
			return f.err
		}
		out <- Event{Type: EventTextDelta, Text: "ok"}
		out <- Event{Type: EventDone}
		return nil
	}), nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetryProviderRecovers(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: errors.New("429 Too Many Requests")}
	p := WrapWithRetry(inner, fastRetry(), nil)

	res, err := Collect(context.Background(), p, Request{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("calls=%d, want 3", inner.calls)
	}
	// Failed attempts must not leak their partial text.
	if res.Text != "partial ok" {
		t.Fatalf("text=%q, want %q", res.Text, "partial ok")
	}
}

func TestRetryProviderGivesUp(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("503 service unavailable")}
	p := WrapWithRetry(inner, fastRetry(), nil)

	if _, err := Collect(context.Background(), p, Request{}); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if inner.calls != 3 {
		t.Fatalf("calls=%d, want 3", inner.calls)
	}
}

func TestRetryProviderNonRetryable(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("400 invalid request")}
	p := WrapWithRetry(inner, fastRetry(), nil)

	if _, err := Collect(context.Background(), p, Request{}); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("calls=%d, want 1", inner.calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("wrap: %w", context.Canceled), false},
		{errors.New("rate limit exceeded"), true},
		{errors.New("529 overloaded_error"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("invalid api key"), false},
	}
	for _, tc := range tests {
		if got := isRetryable(tc.err); got != tc.want {
			t.Errorf("isRetryable(%v)=%v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}}

	if got := r.calculateBackoff(1, errors.New("429: retry-after: 4")); got != 4*time.Second {
		t.Fatalf("retry-after backoff=%v, want 4s", got)
	}
	if got := r.calculateBackoff(1, errors.New("Retry-After: 120")); got != 10*time.Second {
		t.Fatalf("capped retry-after=%v, want 10s", got)
	}
	got := r.calculateBackoff(2, errors.New("503"))
	if got < 1500*time.Millisecond || got > 2500*time.Millisecond {
		t.Fatalf("attempt 2 backoff=%v, want 2s +/- 25%%", got)
	}
	if got := r.calculateBackoff(10, nil); got != 10*time.Second {
		t.Fatalf("attempt 10 backoff=%v, want max", got)
	}
}
