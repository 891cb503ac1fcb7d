package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is embedded in every event published on the bus.
type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewEnvelope(eventType string, version int, correlationID string) (Envelope, error) {
	return NewEnvelopeWithID(uuid.NewString(), eventType, version, correlationID)
}

func NewEnvelopeWithID(eventID, eventType string, version int, correlationID string) (Envelope, error) {
	env := Envelope{
		EventID:       eventID,
		EventType:     eventType,
		EventVersion:  version,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.EventVersion <= 0 {
		return fmt.Errorf("event_version must be positive")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Decode unmarshals raw into out and validates its envelope. Failures are
// wrapped with DLQ so consumers do not retry them.
func Decode(raw []byte, out interface{ EnvelopeRef() *Envelope }, wantType string) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return DLQ(err, "decode")
	}
	env := out.EnvelopeRef()
	if err := env.Validate(); err != nil {
		return DLQ(err, "invalid_event")
	}
	if wantType != "" && env.EventType != wantType {
		return DLQ(fmt.Errorf("unexpected event_type %q", env.EventType), "invalid_event")
	}
	return nil
}

func (e *Envelope) EnvelopeRef() *Envelope { return e }
