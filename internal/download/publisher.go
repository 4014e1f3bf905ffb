package download

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
)

const (
	// DefaultEventsChannel is the Redis pub/sub channel job events go to
	DefaultEventsChannel = "ytdlp-vpn:jobs"

	publishTimeout = 2 * time.Second
	publishBuffer  = 64
)

// RedisPublisher forwards job events to a Redis pub/sub channel so other
// processes can follow the queue. Queue state itself never leaves memory.
//
// Notify only enqueues; Run does the network round trips so a slow Redis
// never stalls the queue.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	events  chan Event
	log     *logger.Logger
}

// NewRedisPublisher creates a publisher on the given channel
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		events:  make(chan Event, publishBuffer),
		log:     logger.Default().WithComponent("publisher"),
	}
}

// Channel returns the pub/sub channel name
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Notify hands the event to Run. When the buffer is full the event is
// dropped with a warning.
func (p *RedisPublisher) Notify(ctx context.Context, e Event) {
	select {
	case p.events <- e:
	default:
		p.log.Warn(ctx, "publish buffer full, dropping job event", map[string]interface{}{
			"event":  string(e.Type),
			"job_id": e.Job.ID,
		})
	}
}

// Run publishes buffered events in order until ctx is done, then flushes
// whatever is still buffered and returns.
func (p *RedisPublisher) Run(ctx context.Context) {
	for {
		select {
		case e := <-p.events:
			p.publishOrLog(ctx, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-p.events:
					p.publishOrLog(ctx, e)
				default:
					return
				}
			}
		}
	}
}

func (p *RedisPublisher) publishOrLog(ctx context.Context, e Event) {
	if err := p.Publish(ctx, e); err != nil {
		p.log.Warn(ctx, "failed to publish job event", map[string]interface{}{
			"event":  string(e.Type),
			"job_id": e.Job.ID,
			"error":  err.Error(),
		})
	}
}

// Publish sends one event, bounded by a short timeout
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscribe listens on the publisher's channel and waits for the server to
// confirm the subscription.
func (p *RedisPublisher) Subscribe(ctx context.Context) (*EventSubscription, error) {
	pubsub := p.client.Subscribe(ctx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}
	return newEventSubscription(pubsub, pubsub.Channel()), nil
}

// EventSubscription wraps a Redis pub/sub subscription for job events
type EventSubscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message

	done      chan struct{}
	closeOnce sync.Once
}

func newEventSubscription(pubsub *redis.PubSub, ch <-chan *redis.Message) *EventSubscription {
	return &EventSubscription{pubsub: pubsub, ch: ch, done: make(chan struct{})}
}

// Channel returns a channel that receives decoded job events. It is closed
// once the subscription is closed, even if nobody is reading.
// Malformed payloads are skipped.
func (s *EventSubscription) Channel() <-chan Event {
	evCh := make(chan Event)

	go func() {
		defer close(evCh)
		for {
			var msg *redis.Message
			select {
			case m, ok := <-s.ch:
				if !ok {
					return
				}
				msg = m
			case <-s.done:
				return
			}

			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			select {
			case evCh <- e:
			case <-s.done:
				return
			}
		}
	}()

	return evCh
}

// Close closes the subscription and stops any Channel readers
func (s *EventSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.pubsub != nil {
			err = s.pubsub.Close()
		}
	})
	return err
}
