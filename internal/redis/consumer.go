package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koios/esphome-designer/internal/notify"
	"github.com/koios/esphome-designer/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const retryDelay = 5 * time.Second

// Subscriber delivers layout events published on Redis to a handler
type Subscriber struct {
	client  *Client
	handler notify.Handler
	logger  *zap.Logger
}

// NewSubscriber creates a new Redis subscriber
func NewSubscriber(client *Client, handler notify.Handler, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		client:  client,
		handler: handler,
		logger:  logger,
	}
}

// Start listens for events of one device, or of every device when deviceKey
// is empty, until ctx is cancelled. Dropped subscriptions are re-established.
func (s *Subscriber) Start(ctx context.Context, deviceKey string) error {
	pattern := ChannelFor(deviceKey)
	if deviceKey == "" {
		pattern = ChannelFor("*")
	}
	s.logger.Info("Starting Redis layout subscriber", zap.String("pattern", pattern))

	for {
		err := s.consume(ctx, pattern)
		if ctx.Err() != nil {
			s.logger.Info("Redis subscriber stopped")
			return nil
		}
		s.logger.Error("Subscription failed, will retry",
			zap.Error(err),
			zap.Duration("retry_delay", retryDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryDelay):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, pattern string) error {
	pubsub := s.client.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			s.handleMessage(ctx, msg)
		}
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, msg *redis.Message) {
	var event models.LayoutEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		s.logger.Error("Failed to unmarshal layout event",
			zap.Error(err),
			zap.String("channel", msg.Channel),
			zap.String("payload", msg.Payload))
		return
	}

	if err := s.handler.HandleLayoutEvent(ctx, &event); err != nil {
		s.logger.Error("Failed to handle layout event",
			zap.Error(err),
			zap.String("channel", msg.Channel),
			zap.String("device", event.DeviceKey))
	}
}
