// Package stream Redis Streams 封装，按分区键有序消费
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/payments/platform/pkg/logger"
)

// Client Redis Streams 客户端
type Client struct {
	client *redis.Client
}

// NewClient 创建客户端
func NewClient(client *redis.Client) *Client {
	return &Client{client: client}
}

// Publish 发布消息到 Stream，key 为分区键
func (c *Client) Publish(ctx context.Context, stream, key string, msg interface{}) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"key":  key,
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return id, nil
}

// Trim 裁剪 Stream
func (c *Client) Trim(ctx context.Context, stream string, maxLen int64) error {
	return c.client.XTrimMaxLen(ctx, stream, maxLen).Err()
}

// StreamInfo Stream 信息
type StreamInfo struct {
	Length         int64
	FirstEntry     string
	LastEntry      string
	ConsumerGroups int64
}

// Info 获取 Stream 信息
func (c *Client) Info(ctx context.Context, stream string) (*StreamInfo, error) {
	info, err := c.client.XInfoStream(ctx, stream).Result()
	if err != nil {
		return nil, err
	}

	return &StreamInfo{
		Length:         info.Length,
		FirstEntry:     info.FirstEntry.ID,
		LastEntry:      info.LastEntry.ID,
		ConsumerGroups: int64(info.Groups),
	}, nil
}

// Message 消息
type Message struct {
	ID     string
	Stream string
	Key    string
	Data   []byte
}

// Handler 消息处理函数
type Handler func(ctx context.Context, msg *Message) error

// ConsumerOptions 消费者选项
type ConsumerOptions struct {
	BatchSize    int           // 每次读取的消息数
	BlockTime    time.Duration // 阻塞等待时间
	MaxRetries   int           // 最大重试次数
	ClaimMinIdle time.Duration // 认领空闲消息的最小时间
	// PendingCheckInterval 周期性处理 pending 的间隔
	PendingCheckInterval time.Duration
}

// DefaultConsumerOptions 默认选项
var DefaultConsumerOptions = ConsumerOptions{
	BatchSize:            10,
	BlockTime:            5 * time.Second,
	MaxRetries:           3,
	ClaimMinIdle:         30 * time.Second,
	PendingCheckInterval: 30 * time.Second,
}

// Consumer 消费者。同一分区键的消息串行处理，不同键并发；
// 消息处理成功后才 ACK，失败消息经 pending 认领重投。
type Consumer struct {
	client   *Client
	group    string
	consumer string
	streams  []string
	handler  Handler
	opts     ConsumerOptions
	log      *logger.Logger

	mu        sync.Mutex
	mailboxes map[string][]*task
	wg        sync.WaitGroup
}

type task struct {
	msg *Message
	ack func()
}

// NewConsumer 创建消费者
func NewConsumer(client *Client, group, consumer string, streams []string, handler Handler, log *logger.Logger, opts *ConsumerOptions) *Consumer {
	if opts == nil {
		opts = &DefaultConsumerOptions
	}
	merged := *opts
	if merged.BatchSize <= 0 {
		merged.BatchSize = DefaultConsumerOptions.BatchSize
	}
	if merged.BlockTime <= 0 {
		merged.BlockTime = DefaultConsumerOptions.BlockTime
	}
	if merged.MaxRetries <= 0 {
		merged.MaxRetries = DefaultConsumerOptions.MaxRetries
	}
	if merged.ClaimMinIdle <= 0 {
		merged.ClaimMinIdle = DefaultConsumerOptions.ClaimMinIdle
	}
	if merged.PendingCheckInterval <= 0 {
		merged.PendingCheckInterval = DefaultConsumerOptions.PendingCheckInterval
	}
	if log == nil {
		log = logger.New("stream-consumer", nil)
	}
	return &Consumer{
		client:    client,
		group:     group,
		consumer:  consumer,
		streams:   streams,
		handler:   handler,
		opts:      merged,
		log:       log,
		mailboxes: make(map[string][]*task),
	}
}

// Start 启动消费，阻塞直到 ctx 取消
func (c *Consumer) Start(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("create group: %w", err)
		}
	}

	if err := c.processPending(ctx); err != nil {
		return fmt.Errorf("process pending: %w", err)
	}

	err := c.consume(ctx)
	c.wg.Wait()
	return err
}

// processPending 处理 pending 消息
func (c *Consumer) processPending(ctx context.Context) error {
	for _, stream := range c.streams {
		for {
			pending, err := c.client.client.XPendingExt(ctx, &redis.XPendingExtArgs{
				Stream: stream,
				Group:  c.group,
				Start:  "-",
				End:    "+",
				Count:  int64(c.opts.BatchSize),
			}).Result()
			if err != nil {
				return fmt.Errorf("xpending: %w", err)
			}

			if len(pending) == 0 {
				break
			}

			ids := make([]string, 0, len(pending))
			dlqIDs := make(map[string]int64)
			for _, p := range pending {
				if p.Idle >= c.opts.ClaimMinIdle {
					ids = append(ids, p.ID)
					if c.opts.MaxRetries > 0 && p.RetryCount > int64(c.opts.MaxRetries) {
						dlqIDs[p.ID] = p.RetryCount
					}
				}
			}

			if len(ids) == 0 {
				break
			}

			messages, err := c.client.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.opts.ClaimMinIdle,
				Messages: ids,
			}).Result()
			if err != nil {
				return fmt.Errorf("xclaim: %w", err)
			}

			for _, m := range messages {
				if retryCount, toDLQ := dlqIDs[m.ID]; toDLQ {
					if err := c.sendToDLQ(ctx, stream, &m, fmt.Sprintf("max retries exceeded: %d", retryCount)); err != nil {
						c.log.WithError(err).Error("send to dlq failed")
						continue
					}
					if err := c.client.client.XAck(ctx, stream, c.group, m.ID).Err(); err != nil {
						c.log.WithError(err).Error("ack dlq message failed")
					}
					continue
				}

				c.dispatch(ctx, stream, m)
			}
		}
	}
	return nil
}

// consume 消费新消息
func (c *Consumer) consume(ctx context.Context) error {
	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	pendingTicker := time.NewTicker(c.opts.PendingCheckInterval)
	defer pendingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pendingTicker.C:
			if err := c.processPending(ctx); err != nil && ctx.Err() == nil {
				c.log.WithError(err).Error("process pending failed")
			}
		default:
		}

		results, err := c.client.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  args,
			Count:    int64(c.opts.BatchSize),
			Block:    c.opts.BlockTime,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, result := range results {
			for _, m := range result.Messages {
				c.dispatch(ctx, result.Stream, m)
			}
		}
	}
}

// dispatch 按分区键投递到串行信箱
func (c *Consumer) dispatch(ctx context.Context, stream string, m redis.XMessage) {
	data, _ := m.Values["data"].(string)
	if data == "" {
		// 无效消息，直接 ACK
		if err := c.client.client.XAck(ctx, stream, c.group, m.ID).Err(); err != nil {
			c.log.WithError(err).Error("ack invalid message failed")
		}
		return
	}

	key, _ := m.Values["key"].(string)
	msg := &Message{
		ID:     m.ID,
		Stream: stream,
		Key:    key,
		Data:   []byte(data),
	}
	if msg.Key == "" {
		// 无分区键的消息不参与串行约束
		msg.Key = msg.ID
	}

	msgID := m.ID
	t := &task{
		msg: msg,
		ack: func() {
			if err := c.client.client.XAck(context.WithoutCancel(ctx), stream, c.group, msgID).Err(); err != nil {
				c.log.WithError(err).Error("ack message failed")
			}
		},
	}

	c.mu.Lock()
	queue, running := c.mailboxes[msg.Key]
	c.mailboxes[msg.Key] = append(queue, t)
	c.mu.Unlock()

	if !running {
		c.wg.Add(1)
		go c.runMailbox(ctx, msg.Key)
	}
}

// runMailbox 串行处理单个分区键的消息
func (c *Consumer) runMailbox(ctx context.Context, key string) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		queue := c.mailboxes[key]
		if len(queue) == 0 {
			delete(c.mailboxes, key)
			c.mu.Unlock()
			return
		}
		t := queue[0]
		c.mailboxes[key] = queue[1:]
		c.mu.Unlock()

		if ctx.Err() != nil {
			// 未处理的消息留在 pending，重启后重投
			continue
		}

		if err := c.handle(ctx, t.msg); err != nil {
			c.log.WithError(err).Errorf("handle message failed", map[string]interface{}{
				"stream": t.msg.Stream,
				"msgId":  t.msg.ID,
				"key":    t.msg.Key,
			})
			continue
		}
		t.ack()
	}
}

// handle 调用处理函数，panic 转为 error
func (c *Consumer) handle(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("handler panic: %v", v)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) sendToDLQ(ctx context.Context, stream string, m *redis.XMessage, reason string) error {
	dlqStream := stream + ":dlq"
	values := map[string]interface{}{
		"stream":   stream,
		"msgId":    m.ID,
		"reason":   reason,
		"key":      m.Values["key"],
		"data":     m.Values["data"],
		"tsMs":     time.Now().UnixMilli(),
		"group":    c.group,
		"consumer": c.consumer,
	}
	_, err := c.client.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd dlq: %w", err)
	}
	return nil
}
