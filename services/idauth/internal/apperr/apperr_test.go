package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindAndCodeSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("token not found", nil))
	if KindOf(err) != KindNotFound || CodeOf(err) != CodeNotFound {
		t.Fatalf("unexpected kind/code %s/%s", KindOf(err), CodeOf(err))
	}
}

func TestWrapKeepsExistingClassification(t *testing.T) {
	policy := Policy(CodeInvalidPartner, "partner inactive", ErrInvalidPartner)
	if got := Wrap("ekyc", policy); KindOf(got) != KindPolicy {
		t.Fatalf("expected policy kind, got %s", KindOf(got))
	}
	raw := errors.New("connection refused")
	got := Wrap("load otp", raw)
	if KindOf(got) != KindInfrastructure || !errors.Is(got, raw) {
		t.Fatalf("expected infra wrapping raw error, got %v", got)
	}
	if Wrap("noop", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestContextErrorsAreInfrastructure(t *testing.T) {
	if KindOf(context.DeadlineExceeded) != KindInfrastructure {
		t.Fatalf("expected deadline to be infrastructure")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected unclassified error to have no kind")
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	err := NewRateLimited(42)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited in chain")
	}
	var rl *RateLimited
	if !errors.As(err, &rl) || rl.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry after 42")
	}
	if CodeOf(err) != CodeRateLimited {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
}
