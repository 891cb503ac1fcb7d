// Package audit writes the append-only authentication trail and mirrors
// each entry onto the auth events topic.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/kafka"
	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/google/uuid"
)

const (
	EventAuthAttempted   = "auth.attempted"
	authAttemptedVersion = 1

	writeTimeout      = 3 * time.Second
	defaultHistoryMax = 50
	historyLimitCap   = 500
)

type Store interface {
	InsertAuthLog(ctx context.Context, log storage.AuthLog) (*storage.AuthLog, error)
	ListAuthLogs(ctx context.Context, userID string, limit int) ([]storage.AuthLog, error)
}

// Entry is one authentication outcome. FailureReason is ignored on success.
type Entry struct {
	UserID        string
	AuthType      storage.AuthType
	Success       bool
	PartnerID     string
	FailureReason string
}

// AuthAttempted never carries codes, samples or tokens.
type AuthAttempted struct {
	kafka.Envelope
	UserID        string             `json:"user_id"`
	AuthType      storage.AuthType   `json:"auth_type"`
	Status        storage.AuthStatus `json:"status"`
	PartnerID     string             `json:"partner_id,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
}

type Recorder struct {
	store     Store
	publisher kafka.Publisher
	topic     string
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewRecorder builds a Recorder. A nil publisher skips the event stream.
func NewRecorder(store Store, publisher kafka.Publisher, topic string, logger *slog.Logger, metrics *Metrics) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{
		store:     store,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record is best-effort: failures are logged and counted, never returned.
// It detaches from ctx cancellation so timed-out attempts are still logged.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	entry := storage.AuthLog{
		ID:        uuid.New(),
		UserID:    e.UserID,
		AuthType:  e.AuthType,
		Status:    storage.AuthStatusSuccess,
		CreatedAt: r.now(),
	}
	if e.PartnerID != "" {
		partnerID := e.PartnerID
		entry.PartnerID = &partnerID
	}
	if !e.Success {
		entry.Status = storage.AuthStatusFailed
		reason := e.FailureReason
		entry.FailureReason = &reason
	}

	saved, err := r.store.InsertAuthLog(ctx, entry)
	if err != nil {
		r.metrics.writeFailed()
		r.logger.Error("audit write failed", "auth_type", e.AuthType, "status", entry.Status, "error", err)
		return
	}
	r.metrics.recorded(saved.AuthType, saved.Status)
	r.publish(ctx, saved)
}

func (r *Recorder) publish(ctx context.Context, saved *storage.AuthLog) {
	if r.publisher == nil {
		return
	}
	env, err := kafka.NewEnvelopeWithID(saved.ID.String(), EventAuthAttempted, authAttemptedVersion, "")
	if err != nil {
		r.logger.Error("build auth event failed", "error", err)
		return
	}
	event := AuthAttempted{
		Envelope: env,
		UserID:   saved.UserID,
		AuthType: saved.AuthType,
		Status:   saved.Status,
	}
	if saved.PartnerID != nil {
		event.PartnerID = *saved.PartnerID
	}
	if saved.FailureReason != nil {
		event.FailureReason = *saved.FailureReason
	}
	if _, _, err := r.publisher.PublishJSON(ctx, r.topic, saved.UserID, event); err != nil {
		r.metrics.publishFailed()
		r.logger.Warn("auth event publish failed", "event_id", env.EventID, "error", err)
	}
}

// History returns up to limit entries for userID, newest first.
func (r *Recorder) History(ctx context.Context, userID string, limit int) ([]storage.AuthLog, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryMax
	}
	if limit > historyLimitCap {
		limit = historyLimitCap
	}
	logs, err := r.store.ListAuthLogs(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Infra("list auth logs", err)
	}
	return logs, nil
}
