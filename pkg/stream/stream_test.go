package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewClient(rdb), mr
}

func testOpts() *ConsumerOptions {
	return &ConsumerOptions{
		BatchSize:            10,
		BlockTime:            50 * time.Millisecond,
		MaxRetries:           3,
		ClaimMinIdle:         time.Minute,
		PendingCheckInterval: time.Minute,
	}
}

func TestNewConsumerDefaultsPendingInterval(t *testing.T) {
	client, _ := newTestClient(t)
	opts := &ConsumerOptions{BatchSize: 5}

	consumer := NewConsumer(client, "group", "consumer", []string{"stream"}, func(ctx context.Context, msg *Message) error {
		return nil
	}, nil, opts)

	if consumer.opts.PendingCheckInterval != DefaultConsumerOptions.PendingCheckInterval {
		t.Fatalf("PendingCheckInterval = %v, want %v", consumer.opts.PendingCheckInterval, DefaultConsumerOptions.PendingCheckInterval)
	}
	if consumer.opts.BatchSize != 5 {
		t.Fatalf("BatchSize = %d, want 5", consumer.opts.BatchSize)
	}
}

func TestPublishAndInfo(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	type payload struct {
		Value string `json:"value"`
	}

	id1, err := client.Publish(ctx, "test:stream", "k1", &payload{Value: "a"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected message id")
	}
	if _, err := client.Publish(ctx, "test:stream", "k2", &payload{Value: "b"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	info, err := client.Info(ctx, "test:stream")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Length != 2 {
		t.Fatalf("expected length 2, got %d", info.Length)
	}
}

func TestConsumer_DeliversMessages(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := map[string]string{}
	done := make(chan struct{})

	handler := func(ctx context.Context, msg *Message) error {
		mu.Lock()
		received[msg.Key] = string(msg.Data)
		n := len(received)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
		return nil
	}

	for _, key := range []string{"p1", "p2"} {
		if _, err := client.Publish(ctx, "pay:initiated", key, map[string]string{"paymentId": key}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	consumer := NewConsumer(client, "g1", "c1", []string{"pay:initiated"}, handler, nil, testOpts())
	finished := make(chan error, 1)
	go func() { finished <- consumer.Start(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
	cancel()
	if err := <-finished; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("consumer error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(received))
	}
}

func TestConsumer_SerialPerKey(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const perKey = 5
	var mu sync.Mutex
	order := map[string][]string{}
	total := 0
	done := make(chan struct{})

	handler := func(ctx context.Context, msg *Message) error {
		// 放大同键乱序的暴露窗口
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order[msg.Key] = append(order[msg.Key], string(msg.Data))
		total++
		if total == perKey*2 {
			close(done)
		}
		mu.Unlock()
		return nil
	}

	for i := 0; i < perKey; i++ {
		for _, key := range []string{"pA", "pB"} {
			if _, err := client.Publish(ctx, "pay:events", key, fmt.Sprintf("%s-%d", key, i)); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}

	consumer := NewConsumer(client, "g1", "c1", []string{"pay:events"}, handler, nil, testOpts())
	finished := make(chan error, 1)
	go func() { finished <- consumer.Start(ctx) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
	cancel()
	<-finished

	mu.Lock()
	defer mu.Unlock()
	for _, key := range []string{"pA", "pB"} {
		got := order[key]
		if len(got) != perKey {
			t.Fatalf("key %s: expected %d messages, got %d", key, perKey, len(got))
		}
		for i, data := range got {
			want := fmt.Sprintf("\"%s-%d\"", key, i)
			if data != want {
				t.Fatalf("key %s out of order at %d: got %s, want %s", key, i, data, want)
			}
		}
	}
}

func TestConsumer_FailedMessageStaysPending(t *testing.T) {
	client, mr := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempted := make(chan struct{}, 4)
	handler := func(ctx context.Context, msg *Message) error {
		attempted <- struct{}{}
		return errors.New("handler failed")
	}

	if _, err := client.Publish(ctx, "pay:initiated", "p1", map[string]string{"paymentId": "p1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer := NewConsumer(client, "g1", "c1", []string{"pay:initiated"}, handler, nil, testOpts())
	finished := make(chan error, 1)
	go func() { finished <- consumer.Start(ctx) }()

	select {
	case <-attempted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler attempt")
	}
	cancel()
	<-finished

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	pending, err := rdb.XPending(context.Background(), "pay:initiated", "g1").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected 1 pending message after failure, got %d", pending.Count)
	}
}

func TestConsumer_PanicDoesNotAck(t *testing.T) {
	client, mr := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempted := make(chan struct{}, 4)
	handler := func(ctx context.Context, msg *Message) error {
		attempted <- struct{}{}
		panic("boom")
	}

	if _, err := client.Publish(ctx, "pay:initiated", "p1", "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer := NewConsumer(client, "g1", "c1", []string{"pay:initiated"}, handler, nil, testOpts())
	finished := make(chan error, 1)
	go func() { finished <- consumer.Start(ctx) }()

	select {
	case <-attempted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler attempt")
	}
	cancel()
	<-finished

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	pending, err := rdb.XPending(context.Background(), "pay:initiated", "g1").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected message left pending after panic, got %d", pending.Count)
	}
}

func TestTrim(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := client.Publish(ctx, "test:stream", "k", i); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := client.Trim(ctx, "test:stream", 3); err != nil {
		t.Fatalf("trim: %v", err)
	}

	info, err := client.Info(ctx, "test:stream")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Length != 3 {
		t.Fatalf("expected length 3 after trim, got %d", info.Length)
	}
}
