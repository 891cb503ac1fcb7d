package kafka

import (
	"encoding/json"
	"errors"
	"testing"
)

type sampleEvent struct {
	Envelope
	UserID string `json:"user_id"`
}

func TestDecodeValidatesEnvelope(t *testing.T) {
	env, err := NewEnvelope("auth.lock.set", 1, "corr-1")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	raw, _ := json.Marshal(sampleEvent{Envelope: env, UserID: "u1"})

	var got sampleEvent
	if err := Decode(raw, &got, "auth.lock.set"); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != "u1" || got.EventID != env.EventID {
		t.Fatalf("unexpected event %+v", got)
	}

	var dlqErr *DLQError
	if err := Decode(raw, &got, "other.type"); !errors.As(err, &dlqErr) || dlqErr.Reason != "invalid_event" {
		t.Fatalf("expected invalid_event, got %v", err)
	}
	if err := Decode([]byte("{"), &got, ""); !errors.As(err, &dlqErr) || dlqErr.Reason != "decode" {
		t.Fatalf("expected decode, got %v", err)
	}
}

func TestNewEnvelopeRejectsMissingFields(t *testing.T) {
	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Fatalf("expected error for empty type")
	}
	if _, err := NewEnvelope("x", 0, ""); err == nil {
		t.Fatalf("expected error for zero version")
	}
}
