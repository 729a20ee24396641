// Package notify delivers submission lifecycle events to the user: a log
// notifier for headless use, and a Redis publisher so other sessions of the
// same employee see the toast as well.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"daily-work-tracker/internal/coordinator"
)

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, kind coordinator.NotifyKind, message string) {
	log.Printf("notify %s: %s", kind, message)
}

// Event is the wire form published to Redis.
type Event struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RedisNotifier publishes events to a pub/sub channel. Delivery is best
// effort: a publish failure is logged, never surfaced as a submission error.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, kind coordinator.NotifyKind, message string) {
	payload, err := json.Marshal(Event{Kind: string(kind), Message: message, At: time.Now().UTC()})
	if err != nil {
		log.Printf("notify marshal: %v", err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		log.Printf("notify publish: %v", err)
	}
}

// Fanout forwards each notification to every wrapped notifier.
type Fanout []coordinator.Notifier

func (f Fanout) Notify(ctx context.Context, kind coordinator.NotifyKind, message string) {
	for _, n := range f {
		n.Notify(ctx, kind, message)
	}
}
