package events

import (
	"context"
	"fmt"

	"github.com/payments/platform/pkg/stream"
)

// Topics 事件类型到 Stream 名称的映射
type Topics struct {
	Initiated  string
	Authorized string
	Rejected   string
	Settled    string
	Failed     string
}

// DefaultTopics 按前缀生成默认 topic 名
func DefaultTopics(prefix string) Topics {
	return Topics{
		Initiated:  prefix + ":initiated",
		Authorized: prefix + ":authorized",
		Rejected:   prefix + ":rejected",
		Settled:    prefix + ":settled",
		Failed:     prefix + ":failed",
	}
}

// ForKind 事件类型对应的 topic
func (t Topics) ForKind(kind string) (string, error) {
	switch kind {
	case KindPaymentInitiated:
		return t.Initiated, nil
	case KindPaymentAuthorized:
		return t.Authorized, nil
	case KindPaymentRejected:
		return t.Rejected, nil
	case KindPaymentSettled:
		return t.Settled, nil
	case KindPaymentFailed:
		return t.Failed, nil
	}
	return "", fmt.Errorf("unknown event kind: %s", kind)
}

// KindFor topic 对应的事件类型
func (t Topics) KindFor(topic string) (string, error) {
	switch topic {
	case t.Initiated:
		return KindPaymentInitiated, nil
	case t.Authorized:
		return KindPaymentAuthorized, nil
	case t.Rejected:
		return KindPaymentRejected, nil
	case t.Settled:
		return KindPaymentSettled, nil
	case t.Failed:
		return KindPaymentFailed, nil
	}
	return "", fmt.Errorf("unknown topic: %s", topic)
}

// All 所有 topic 列表
func (t Topics) All() []string {
	return []string{t.Initiated, t.Authorized, t.Rejected, t.Settled, t.Failed}
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus 基于 Redis Streams 的事件总线，按 paymentId 分区
type Bus struct {
	client *stream.Client
	topics Topics
}

// NewBus 创建事件总线
func NewBus(client *stream.Client, topics Topics) *Bus {
	return &Bus{client: client, topics: topics}
}

// Publish 发布事件到对应 topic
func (b *Bus) Publish(ctx context.Context, e Event) error {
	topic, err := b.topics.ForKind(e.Kind())
	if err != nil {
		return err
	}
	if _, err := b.client.Publish(ctx, topic, e.Key(), e); err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind(), err)
	}
	return nil
}
