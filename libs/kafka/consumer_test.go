package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

type stubSession struct {
	ctx    context.Context
	marked int
}

func (s *stubSession) Context() context.Context                         { return s.ctx }
func (s *stubSession) Claims() map[string][]int32                       { return map[string][]int32{} }
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string)  { s.marked++ }
func (s *stubSession) Commit()                                          {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "auth.locks" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func claimOf(msgs ...*sarama.ConsumerMessage) *stubClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &stubClaim{msgCh: ch}
}

func TestConsumerGroupHandlerDLQsPermanentError(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: HandlerFunc(func(context.Context, *sarama.ConsumerMessage) error {
			return DLQ(errors.New("decode failed"), "decode")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(3, time.Minute),
	}

	session := &stubSession{ctx: context.Background()}
	msg := &sarama.ConsumerMessage{Topic: "auth.locks", Offset: 1, Value: []byte("bad")}
	if err := handler.ConsumeClaim(session, claimOf(msg)); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if session.marked != 1 {
		t.Fatalf("expected message to be marked, got %d", session.marked)
	}
	if len(dlq.calls) != 1 || dlq.calls[0].topic != "dead_letter" {
		t.Fatalf("expected one dlq publish, got %+v", dlq.calls)
	}
	payload, ok := dlq.calls[0].value.(DLQPayload)
	if !ok {
		t.Fatalf("expected DLQPayload, got %T", dlq.calls[0].value)
	}
	if payload.Reason != "decode" || payload.Attempts != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestConsumerGroupHandlerRetriesTransientError(t *testing.T) {
	dlq := &stubPublisher{}
	calls := 0
	handler := &consumerGroupHandler{
		handler: HandlerFunc(func(context.Context, *sarama.ConsumerMessage) error {
			calls++
			return errors.New("db down")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(2, time.Minute),
	}

	msg := &sarama.ConsumerMessage{Topic: "auth.locks", Offset: 7}
	session := &stubSession{ctx: context.Background()}

	_ = handler.ConsumeClaim(session, claimOf(msg))
	if session.marked != 0 || len(dlq.calls) != 0 {
		t.Fatalf("expected first failure to be left for redelivery")
	}

	_ = handler.ConsumeClaim(session, claimOf(msg))
	if session.marked != 1 || len(dlq.calls) != 1 {
		t.Fatalf("expected second failure to go to dlq, marked=%d dlq=%d", session.marked, len(dlq.calls))
	}
	if p := dlq.calls[0].value.(DLQPayload); p.Reason != "max_attempts" {
		t.Fatalf("expected max_attempts reason, got %s", p.Reason)
	}
}

func TestConsumerGroupHandlerMarksSuccess(t *testing.T) {
	handler := &consumerGroupHandler{
		handler:      HandlerFunc(func(context.Context, *sarama.ConsumerMessage) error { return nil }),
		logger:       slog.Default(),
		retryTracker: newRetryTracker(3, time.Minute),
	}
	session := &stubSession{ctx: context.Background()}
	_ = handler.ConsumeClaim(session, claimOf(&sarama.ConsumerMessage{Offset: 1}, &sarama.ConsumerMessage{Offset: 2}))
	if session.marked != 2 {
		t.Fatalf("expected 2 marked, got %d", session.marked)
	}
}

func TestRetryTrackerExpiresEntries(t *testing.T) {
	tracker := newRetryTracker(3, time.Minute)
	now := time.Now()
	tracker.now = func() time.Time { return now }
	msg := &sarama.ConsumerMessage{Topic: "t", Offset: 1}

	tracker.inc(msg)
	tracker.inc(msg)
	now = now.Add(2 * time.Minute)
	if got := tracker.inc(msg); got != 1 {
		t.Fatalf("expected stale entry to reset, got %d", got)
	}
}
