// Package notify publishes push lifecycle events so reviewer tooling can
// react without polling. Delivery is best effort and never sits on the
// request veto path.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pushgate/pushgate/models"
)

// Channel carries all pushgate lifecycle events.
const Channel = "pushgate.events"

// Event kinds.
const (
	EventPushPending    = "push:pending"
	EventPushAuthorised = "push:authorised"
	EventPushRejected   = "push:rejected"
	EventPushCanceled   = "push:canceled"
)

// Event is one lifecycle notification.
type Event struct {
	Kind      string    `json:"kind"`
	PushID    string    `json:"pushId"`
	Repo      string    `json:"repo"`
	Branch    string    `json:"branch"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes events to a redis channel. A nil Publisher is a
// no-op, so callers never need to branch on whether redis is configured.
type Publisher struct {
	client *redis.Client
	logger *log.Logger
}

// NewPublisher connects a publisher to the redis instance at url
// (redis:// form).
func NewPublisher(url string, logger *log.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: redis.NewClient(opts), logger: logger}, nil
}

// Publish sends one event. Failures are logged, not returned; losing a
// notification must never fail the push that caused it.
func (p *Publisher) Publish(ctx context.Context, kind string, action *models.Action) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(Event{
		Kind:      kind,
		PushID:    action.ID,
		Repo:      action.Repo,
		Branch:    action.Branch,
		User:      action.User,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Printf("Failed to marshal %s event for push %s: %v", kind, action.ID, err)
		return
	}
	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		p.logger.Printf("Failed to publish %s event for push %s: %v", kind, action.ID, err)
	}
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
