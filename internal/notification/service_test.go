package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/payments/platform/internal/events"
	commonerrors "github.com/payments/platform/pkg/errors"
	"github.com/payments/platform/pkg/stream"
)

type failingSender struct {
	err   error
	calls int
	last  *Record
}

func (s *failingSender) Send(ctx context.Context, r *Record) error {
	s.calls++
	s.last = r
	return s.err
}

func newTestStore(t *testing.T) *RedisStore {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, "test:notifications")
}

func newTestNotificationService(t *testing.T, sender Sender) *Service {
	return NewService(newTestStore(t), sender, events.DefaultTopics("test"), nil)
}

func settledEvent(paymentID string) *events.PaymentSettled {
	return &events.PaymentSettled{
		PaymentID:     paymentID,
		OrderID:       "order-1",
		SettlementID:  "SETTLE_1",
		Amount:        "100",
		CorrelationID: "corr-1",
		Timestamp:     time.Now(),
	}
}

func TestRecord_SavesSentNotification(t *testing.T) {
	sender := &failingSender{}
	service := newTestNotificationService(t, sender)
	ctx := context.Background()

	if err := service.Record(ctx, settledEvent("pay-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := service.Get(ctx, "pay-1:PaymentSettled")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != StatusSent {
		t.Fatalf("expected SENT, got %s", r.Status)
	}
	if r.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", r.Attempts)
	}
	if sender.calls != 1 {
		t.Fatalf("expected 1 send, got %d", sender.calls)
	}
}

func TestRecord_SendFailureStoredAsFailed(t *testing.T) {
	sender := &failingSender{err: errors.New("smtp down")}
	service := newTestNotificationService(t, sender)
	ctx := context.Background()

	if err := service.Record(ctx, settledEvent("pay-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := service.Get(ctx, "pay-1:PaymentSettled")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", r.Status)
	}
}

func TestRecord_InitiatedProducesNoNotification(t *testing.T) {
	sender := &failingSender{}
	service := newTestNotificationService(t, sender)

	evt := &events.PaymentInitiated{PaymentID: "pay-1", OrderID: "order-1"}
	if err := service.Record(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 0 {
		t.Fatalf("expected no sends, got %d", sender.calls)
	}
}

func TestRecord_DuplicateDeliveryOverwrites(t *testing.T) {
	sender := &failingSender{}
	service := newTestNotificationService(t, sender)
	ctx := context.Background()

	evt := settledEvent("pay-1")
	for i := 0; i < 3; i++ {
		if err := service.Record(ctx, evt); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected 1 notification after duplicates, got %d", stats.Total)
	}
}

func TestRetry_IncrementsAttempts(t *testing.T) {
	sender := &failingSender{err: errors.New("down")}
	service := newTestNotificationService(t, sender)
	ctx := context.Background()

	if err := service.Record(ctx, settledEvent("pay-1")); err != nil {
		t.Fatalf("record: %v", err)
	}

	sender.err = nil
	r, err := service.Retry(ctx, "pay-1:PaymentSettled")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if r.Status != StatusSent {
		t.Fatalf("expected SENT after retry, got %s", r.Status)
	}
	if r.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", r.Attempts)
	}

	stats, _ := service.Stats(ctx)
	if stats.ByStatus[StatusFailed] != 0 {
		t.Fatalf("expected failed count decremented, got %d", stats.ByStatus[StatusFailed])
	}
	if stats.ByStatus[StatusSent] != 1 {
		t.Fatalf("expected 1 sent, got %d", stats.ByStatus[StatusSent])
	}
}

func TestRetry_NotFound(t *testing.T) {
	service := newTestNotificationService(t, &failingSender{})

	_, err := service.Retry(context.Background(), "missing")
	if !errors.Is(err, commonerrors.ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
}

func TestStats_Breakdown(t *testing.T) {
	sender := &failingSender{}
	service := newTestNotificationService(t, sender)
	ctx := context.Background()

	if err := service.Record(ctx, settledEvent("pay-1")); err != nil {
		t.Fatalf("record: %v", err)
	}
	rejected := &events.PaymentRejected{
		PaymentID:       "pay-2",
		OrderID:         "order-2",
		RejectionReason: "AMOUNT_EXCEEDS_LIMIT: transaction amount exceeds daily limit",
	}
	if err := service.Record(ctx, rejected); err != nil {
		t.Fatalf("record: %v", err)
	}

	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected total 2, got %d", stats.Total)
	}
	if stats.ByEventType[events.KindPaymentSettled] != 1 {
		t.Fatalf("unexpected event breakdown: %v", stats.ByEventType)
	}
	if stats.ByEventType[events.KindPaymentRejected] != 1 {
		t.Fatalf("unexpected event breakdown: %v", stats.ByEventType)
	}
	if stats.ByStatus[StatusSent] != 2 {
		t.Fatalf("unexpected status breakdown: %v", stats.ByStatus)
	}
}

func TestHandleMessage_DecodesFromStream(t *testing.T) {
	sender := &failingSender{}
	service := newTestNotificationService(t, sender)
	topics := events.DefaultTopics("test")

	data, err := json.Marshal(settledEvent("pay-1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msg := &stream.Message{ID: "1-0", Stream: topics.Settled, Key: "pay-1", Data: data}
	if err := service.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected 1 send, got %d", sender.calls)
	}
	if sender.last.PaymentID != "pay-1" {
		t.Fatalf("unexpected record: %+v", sender.last)
	}
}
