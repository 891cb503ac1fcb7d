// Package consumer applies lock commands published by the resident and
// admin portals.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AROSTA-MOSTER/datakomeza/libs/kafka"
	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
)

const EventLockSet = "auth.lock.set"

type LockCommand struct {
	kafka.Envelope
	UserID   string           `json:"user_id"`
	AuthType storage.AuthType `json:"auth_type"`
	Modality storage.Modality `json:"modality,omitempty"`
	Locked   bool             `json:"locked"`
}

func (c *LockCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if !c.AuthType.Valid() {
		return fmt.Errorf("unknown auth_type %q", c.AuthType)
	}
	return nil
}

type LockSetter interface {
	SetLock(ctx context.Context, userID string, authType storage.AuthType, modality storage.Modality, locked bool) (*storage.AuthLock, error)
}

type LockConsumer struct {
	locks   LockSetter
	logger  *slog.Logger
	metrics *Metrics
}

func NewLockConsumer(locks LockSetter, logger *slog.Logger, metrics *Metrics) *LockConsumer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LockConsumer{locks: locks, logger: logger, metrics: metrics}
}

// HandleMessage rejects malformed commands permanently; store failures are
// returned plain so the consumer retries them.
func (c *LockConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		c.metrics.record("invalid")
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "invalid_event")
	}

	var cmd LockCommand
	if err := kafka.Decode(msg.Value, &cmd, EventLockSet); err != nil {
		c.metrics.record("invalid")
		return err
	}
	if err := cmd.Validate(); err != nil {
		c.metrics.record("invalid")
		return kafka.DLQ(err, "invalid_event")
	}

	lock, err := c.locks.SetLock(ctx, cmd.UserID, cmd.AuthType, cmd.Modality, cmd.Locked)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			c.metrics.record("invalid")
			return kafka.DLQ(err, "invalid_event")
		}
		c.metrics.record("error")
		return err
	}

	c.metrics.record("success")
	c.logger.Info("lock command applied", "event_id", cmd.EventID, "auth_type", lock.AuthType, "modality", lock.Modality, "locked", lock.IsLocked)
	return nil
}

type Metrics struct {
	Commands *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lock_commands_processed_total",
				Help: "Lock commands consumed by status.",
			},
			[]string{"status"},
		),
	}
	registry.MustRegister(m.Commands)
	return m
}

func (m *Metrics) record(status string) {
	if m != nil {
		m.Commands.WithLabelValues(status).Inc()
	}
}
