// Package notify delivers OTP codes. The Kafka notifier hands codes to the
// messaging gateway over the notifications topic; the Log notifier is for
// local runs without a broker.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AROSTA-MOSTER/datakomeza/libs/kafka"
	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
)

const (
	EventOTPDispatch   = "otp.dispatch"
	otpDispatchVersion = 1
)

// OTPDispatch is consumed by the sms and email gateways.
type OTPDispatch struct {
	kafka.Envelope
	Channel     storage.OTPType `json:"channel"`
	Destination string          `json:"destination"`
	Code        string          `json:"code"`
}

type Kafka struct {
	publisher kafka.Publisher
	topic     string
}

func NewKafka(publisher kafka.Publisher, topic string) *Kafka {
	return &Kafka{publisher: publisher, topic: topic}
}

func (k *Kafka) Send(ctx context.Context, channel storage.OTPType, destination, code string) error {
	env, err := kafka.NewEnvelope(EventOTPDispatch, otpDispatchVersion, "")
	if err != nil {
		return err
	}
	event := OTPDispatch{Envelope: env, Channel: channel, Destination: destination, Code: code}
	// Keyed by destination so codes for one contact stay ordered.
	if _, _, err := k.publisher.PublishJSON(ctx, k.topic, destination, event); err != nil {
		return fmt.Errorf("publish otp dispatch: %w", err)
	}
	return nil
}

type Log struct {
	logger   *slog.Logger
	showCode bool
}

// NewLog returns a notifier that only logs. showCode prints the code
// itself and is meant for local development.
func NewLog(logger *slog.Logger, showCode bool) *Log {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Log{logger: logger, showCode: showCode}
}

func (l *Log) Send(_ context.Context, channel storage.OTPType, destination, code string) error {
	attrs := []any{"channel", channel, "destination", logging.Mask(destination, 4)}
	if l.showCode {
		attrs = append(attrs, "code", code)
	}
	l.logger.Info("otp dispatched", attrs...)
	return nil
}
