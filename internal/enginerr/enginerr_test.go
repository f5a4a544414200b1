package enginerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	if !Retryable(Timeout("30s")) {
		t.Fatal("timeout should be retryable")
	}
	if Retryable(UnknownPlugin("rss-fetch")) {
		t.Fatal("unknown plugin should not be retryable")
	}
	if Retryable(errors.New("plain error")) {
		t.Fatal("non-engine error should not be retryable")
	}
}

func TestEngineErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("wrapping: %w", Cancelled())
	if !errors.Is(wrapped, Cancelled()) {
		t.Fatal("errors.Is should match on kind through Is()")
	}
	if errors.Is(wrapped, Timeout("30s")) {
		t.Fatal("different kinds must not match")
	}
}
