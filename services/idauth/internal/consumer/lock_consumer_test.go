package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/kafka"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeLocks struct {
	calls    int
	userID   string
	authType storage.AuthType
	modality storage.Modality
	locked   bool
	err      error
}

func (f *fakeLocks) SetLock(_ context.Context, userID string, authType storage.AuthType, modality storage.Modality, locked bool) (*storage.AuthLock, error) {
	f.calls++
	f.userID, f.authType, f.modality, f.locked = userID, authType, modality, locked
	if f.err != nil {
		return nil, f.err
	}
	return &storage.AuthLock{UserID: userID, AuthType: authType, Modality: modality, IsLocked: locked}, nil
}

func lockMessage(t *testing.T, cmd LockCommand) *sarama.ConsumerMessage {
	t.Helper()
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "auth.locks", Value: payload}
}

func newCommand() LockCommand {
	return LockCommand{
		Envelope: kafka.Envelope{
			EventID:      "evt_1",
			EventType:    EventLockSet,
			EventVersion: 1,
			Timestamp:    time.Now().UTC(),
		},
		UserID:   "u1",
		AuthType: storage.AuthTypeBiometric,
		Modality: storage.ModalityIris,
		Locked:   true,
	}
}

func TestLockConsumerAppliesCommand(t *testing.T) {
	locks := &fakeLocks{}
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	c := NewLockConsumer(locks, nil, metrics)

	if err := c.HandleMessage(context.Background(), lockMessage(t, newCommand())); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if locks.userID != "u1" || locks.modality != storage.ModalityIris || !locks.locked {
		t.Fatalf("unexpected lock call %+v", locks)
	}
	if got := testutil.ToFloat64(metrics.Commands.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
}

func TestLockConsumerRejectsInvalidCommands(t *testing.T) {
	locks := &fakeLocks{}
	c := NewLockConsumer(locks, nil, nil)

	wrongType := newCommand()
	wrongType.EventType = "auth.lock.removed"
	noUser := newCommand()
	noUser.UserID = ""
	badType := newCommand()
	badType.AuthType = "password"

	cases := map[string]*sarama.ConsumerMessage{
		"empty":      {Value: nil},
		"garbage":    {Value: []byte("{")},
		"wrong type": lockMessage(t, wrongType),
		"no user":    lockMessage(t, noUser),
		"bad type":   lockMessage(t, badType),
	}
	for name, msg := range cases {
		err := c.HandleMessage(context.Background(), msg)
		var dlqErr *kafka.DLQError
		if !errors.As(err, &dlqErr) {
			t.Fatalf("%s: expected DLQ error, got %v", name, err)
		}
	}
	if locks.calls != 0 {
		t.Fatalf("expected no lock writes for invalid commands")
	}
}

func TestLockConsumerScopeErrorGoesToDLQ(t *testing.T) {
	locks := &fakeLocks{err: apperr.Validation("modality applies to biometric locks only")}
	c := NewLockConsumer(locks, nil, nil)

	var dlqErr *kafka.DLQError
	if err := c.HandleMessage(context.Background(), lockMessage(t, newCommand())); !errors.As(err, &dlqErr) {
		t.Fatalf("expected DLQ error, got %v", err)
	}
}

func TestLockConsumerStoreFailureIsRetried(t *testing.T) {
	locks := &fakeLocks{err: apperr.Infra("set auth lock", errors.New("db down"))}
	c := NewLockConsumer(locks, nil, nil)

	err := c.HandleMessage(context.Background(), lockMessage(t, newCommand()))
	if err == nil {
		t.Fatalf("expected error")
	}
	var dlqErr *kafka.DLQError
	if errors.As(err, &dlqErr) {
		t.Fatalf("expected transient error, got DLQ")
	}
}
