package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/payments/platform/internal/events"
	"github.com/payments/platform/pkg/logger"
	"github.com/payments/platform/pkg/stream"
)

// Sender 通知投递接口。渠道扇出（邮件/短信等）在平台外部，
// 默认实现仅落结构化日志。
type Sender interface {
	Send(ctx context.Context, r *Record) error
}

// LogSender 日志投递
type LogSender struct {
	log *logger.Logger
}

// NewLogSender 创建日志投递器
func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.New("notification", nil)
	}
	return &LogSender{log: log}
}

// Send 写日志
func (s *LogSender) Send(ctx context.Context, r *Record) error {
	s.log.WithContext(ctx).Infof("payment notification", map[string]interface{}{
		"notificationId": r.ID,
		"paymentId":      r.PaymentID,
		"eventType":      r.EventType,
		"content":        r.Content,
	})
	return nil
}

// Service 订阅支付生命周期事件并记录可查询/可重发的通知
type Service struct {
	store  Store
	sender Sender
	topics events.Topics
	log    *logger.Logger
	now    func() time.Time
}

// NewService 创建通知服务
func NewService(store Store, sender Sender, topics events.Topics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.New("notification", nil)
	}
	return &Service{store: store, sender: sender, topics: topics, log: log, now: time.Now}
}

// HandleMessage 流消费入口
func (s *Service) HandleMessage(ctx context.Context, msg *stream.Message) error {
	kind, err := s.topics.KindFor(msg.Stream)
	if err != nil {
		return err
	}

	event, err := events.Decode(kind, msg.Data)
	if err != nil {
		return err
	}

	return s.Record(ctx, event)
}

// Record 为一个支付事件记录通知。通知 ID 由 paymentId 和事件类型
// 派生，重复投递覆盖同一条记录（幂等）。
func (s *Service) Record(ctx context.Context, event events.Event) error {
	r := s.build(event)
	if r == nil {
		return nil
	}

	r.Attempts = 1
	if err := s.sender.Send(ctx, r); err != nil {
		r.Status = StatusFailed
		s.log.WithError(err).Warnf("notification delivery failed", map[string]interface{}{
			"notificationId": r.ID,
		})
	} else {
		r.Status = StatusSent
	}
	r.UpdatedAtMs = s.now().UnixMilli()

	return s.store.Save(ctx, r)
}

// Retry 重发一条通知
func (s *Service) Retry(ctx context.Context, id string) (*Record, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r.Attempts++
	if err := s.sender.Send(ctx, r); err != nil {
		r.Status = StatusFailed
	} else {
		r.Status = StatusSent
	}
	r.UpdatedAtMs = s.now().UnixMilli()

	if err := s.store.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Get 查询一条通知
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// Statistics 通知统计
type Statistics struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"byStatus"`
	ByEventType map[string]int64 `json:"byEventType"`
}

// Stats 汇总通知统计
func (s *Service) Stats(ctx context.Context) (*Statistics, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		GeneratedAt: s.now(),
		ByStatus:    make(map[string]int64),
		ByEventType: make(map[string]int64),
	}
	for k, v := range counts {
		switch {
		case k == "total":
			stats.Total = v
		case len(k) > 7 && k[:7] == "status:":
			stats.ByStatus[k[7:]] = v
		case len(k) > 6 && k[:6] == "event:":
			stats.ByEventType[k[6:]] = v
		}
	}
	return stats, nil
}

func (s *Service) build(event events.Event) *Record {
	nowMs := s.now().UnixMilli()
	r := &Record{
		EventType:   event.Kind(),
		Status:      StatusPending,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}

	switch e := event.(type) {
	case *events.PaymentAuthorized:
		r.PaymentID = e.PaymentID
		r.OrderID = e.OrderID
		r.CorrelationID = e.CorrelationID
		r.Content = fmt.Sprintf("payment %s authorized for order %s", e.PaymentID, e.OrderID)
	case *events.PaymentRejected:
		r.PaymentID = e.PaymentID
		r.OrderID = e.OrderID
		r.CorrelationID = e.CorrelationID
		r.Content = fmt.Sprintf("payment %s rejected: %s", e.PaymentID, e.RejectionReason)
	case *events.PaymentSettled:
		r.PaymentID = e.PaymentID
		r.OrderID = e.OrderID
		r.CorrelationID = e.CorrelationID
		r.Content = fmt.Sprintf("payment %s settled, settlement %s", e.PaymentID, e.SettlementID)
	case *events.PaymentFailed:
		r.PaymentID = e.PaymentID
		r.OrderID = e.OrderID
		r.CorrelationID = e.CorrelationID
		r.Content = fmt.Sprintf("payment %s failed: %s", e.PaymentID, e.FailureReasons)
	default:
		// PaymentInitiated 不产生对外通知
		return nil
	}

	r.ID = r.PaymentID + ":" + r.EventType
	return r
}
