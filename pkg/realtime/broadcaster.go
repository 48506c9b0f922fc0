// Package realtime pushes presence changes to watch sockets over redis pub/sub
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jgirmay/pulse/pkg/logging"
	"github.com/jgirmay/pulse/pkg/models"
	"github.com/jgirmay/pulse/pkg/repository"
)

// Message types sent to watchers
const (
	MessageSnapshot = "snapshot"
	MessagePresence = "presence"
)

// Message is the envelope written to watch sockets
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Broadcaster publishes presence events on a per-organization channel.
// Every instance subscribes to the same channels, so watchers on any node see every write.
type Broadcaster struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster(client redis.UniversalClient, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{client: client, logger: logging.OrNop(logger).Named("broadcaster")}
}

// PublishPresence implements presence.Publisher
func (b *Broadcaster) PublishPresence(ctx context.Context, event models.PresenceEvent) error {
	payload, err := json.Marshal(Message{Type: MessagePresence, Timestamp: event.At, Data: event})
	if err != nil {
		return fmt.Errorf("encode presence event: %w", err)
	}
	if err := b.client.Publish(ctx, repository.EventsChannel(event.OrganizationID), payload).Err(); err != nil {
		return fmt.Errorf("publish presence event: %w", err)
	}
	return nil
}

// Subscribe opens a subscription to orgID's events and waits for the confirmation
func (b *Broadcaster) Subscribe(ctx context.Context, orgID string) (*redis.PubSub, error) {
	sub := b.client.Subscribe(ctx, repository.EventsChannel(orgID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe presence events: %w", err)
	}
	return sub, nil
}
