package download

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6380"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("bad REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisPublisher_DefaultChannel(t *testing.T) {
	p := NewRedisPublisher(nil, "")
	if p.Channel() != DefaultEventsChannel {
		t.Errorf("Channel() = %s, want %s", p.Channel(), DefaultEventsChannel)
	}
}

func TestRedisPublisher_QueueEventsReachSubscriber(t *testing.T) {
	client := newTestRedis(t)
	p := NewRedisPublisher(client, "ytdlp-vpn:test:"+time.Now().Format("150405.000000"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go p.Run(ctx)

	sub, err := p.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()
	events := sub.Channel()

	gate := newGateProcessor()
	q := newTestQueue(t, gate, p)
	job := submit(t, q, "https://www.bbc.co.uk/iplayer/x")
	gate.waitStarted(t)
	gate.complete(t, success("ok"))

	want := []EventType{EventJobQueued, EventJobStarted, EventJobCompleted}
	for _, typ := range want {
		select {
		case e := <-events:
			if e.Type != typ {
				t.Fatalf("event = %s, want %s", e.Type, typ)
			}
			if e.Job.ID != job.ID {
				t.Errorf("event job id = %d, want %d", e.Job.ID, job.ID)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestRedisPublisher_NotifyDoesNotBlock(t *testing.T) {
	// Run is never started and the client is nil: Notify must only enqueue
	p := NewRedisPublisher(nil, "")

	start := time.Now()
	for i := 0; i < publishBuffer+10; i++ {
		p.Notify(context.Background(), Event{Type: EventJobQueued, Job: Job{ID: int64(i + 1)}})
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Notify blocked for %v", elapsed)
	}
	if len(p.events) != publishBuffer {
		t.Errorf("buffered %d events, want %d", len(p.events), publishBuffer)
	}

	first := <-p.events
	if first.Job.ID != 1 {
		t.Errorf("first buffered job = %d, want 1", first.Job.ID)
	}
}

func TestRedisPublisher_NotifyUnderQueueLockIsFast(t *testing.T) {
	p := NewRedisPublisher(nil, "")
	gate := newGateProcessor()
	q := newTestQueue(t, gate, p)

	start := time.Now()
	for i := 0; i < publishBuffer*2; i++ {
		submit(t, q, "https://example.com/a")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("submitting with a stalled publisher took %v", elapsed)
	}
}

func TestEventSubscription_CloseStopsUnreadChannel(t *testing.T) {
	msgs := make(chan *redis.Message, 2)
	for i := 1; i <= 2; i++ {
		data, err := json.Marshal(Event{Type: EventJobQueued, Job: Job{ID: int64(i)}})
		if err != nil {
			t.Fatal(err)
		}
		msgs <- &redis.Message{Payload: string(data)}
	}

	sub := newEventSubscription(nil, msgs)
	events := sub.Channel()

	// Let the relay goroutine block on the unread send
	time.Sleep(20 * time.Millisecond)
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel was not closed after Close")
		}
	}
}
