// Package notification 支付事件通知投影
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	commonerrors "github.com/payments/platform/pkg/errors"
)

// 通知状态
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// Record 单条通知记录
type Record struct {
	ID            string `json:"id"`
	PaymentID     string `json:"paymentId"`
	OrderID       string `json:"orderId"`
	CorrelationID string `json:"correlationId"`
	EventType     string `json:"eventType"`
	Status        string `json:"status"`
	Content       string `json:"content"`
	Attempts      int    `json:"attempts"`
	CreatedAtMs   int64  `json:"createdAtMs"`
	UpdatedAtMs   int64  `json:"updatedAtMs"`
}

// Store 通知存储接口，由单一组件持有
type Store interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

// RedisStore 基于 Redis 的通知存储
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建存储
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "payments:notifications"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) statsKey() string {
	return s.prefix + ":stats"
}

// Save 写入记录并维护状态计数
func (s *RedisStore) Save(ctx context.Context, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	prev, err := s.Get(ctx, r.ID)
	if err != nil && err != commonerrors.ErrNotificationNotFound {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(r.ID), data, 0)
	if prev == nil {
		pipe.HIncrBy(ctx, s.statsKey(), "status:"+r.Status, 1)
		pipe.HIncrBy(ctx, s.statsKey(), "event:"+r.EventType, 1)
		pipe.HIncrBy(ctx, s.statsKey(), "total", 1)
	} else if prev.Status != r.Status {
		pipe.HIncrBy(ctx, s.statsKey(), "status:"+prev.Status, -1)
		pipe.HIncrBy(ctx, s.statsKey(), "status:"+r.Status, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// Get 按 ID 读取
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, commonerrors.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &r, nil
}

// Counts 读取统计计数
func (s *RedisStore) Counts(ctx context.Context) (map[string]int64, error) {
	fields, err := s.client.HGetAll(ctx, s.statsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("get notification stats: %w", err)
	}

	counts := make(map[string]int64, len(fields))
	for k, v := range fields {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			counts[k] = n
		}
	}
	return counts, nil
}
