package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisBus carries events over Redis pub/sub. Each subject maps to the
// channel "{prefix}.{subject}".
type RedisBus struct {
	client redis.UniversalClient
	prefix string
	logger logrus.FieldLogger
}

// NewRedisBus creates a bus on an existing client
func NewRedisBus(client redis.UniversalClient, prefix string, logger logrus.FieldLogger) *RedisBus {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisBus{
		client: client,
		prefix: prefix,
		logger: logger.WithField("component", "events"),
	}
}

func (b *RedisBus) channel(subject string) string {
	if b.prefix == "" {
		return subject
	}
	return b.prefix + "." + subject
}

// Publish implements Publisher
func (b *RedisBus) Publish(ctx context.Context, subject string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(subject), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then delivers
// messages to handler in a goroutine until ctx is done. Handler errors and
// undecodable messages are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context, subject string, handler Handler) error {
	channel := b.channel(subject)
	pubsub := b.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	logger := b.logger.WithField("subject", subject)
	messages := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.WithError(err).Warn("Dropping undecodable event")
					continue
				}
				if err := handler(ctx, event); err != nil {
					logger.WithError(err).WithField("event_id", event.ID).Error("Event handler failed")
				}
			}
		}
	}()

	logger.Info("Subscribed to events")
	return nil
}
