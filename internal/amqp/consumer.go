package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/koios/esphome-designer/internal/notify"
	"github.com/koios/esphome-designer/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer delivers layout events queued for a device to a handler
type Consumer struct {
	conn    *Connection
	handler notify.Handler
	logger  *zap.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(conn *Connection, handler notify.Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:    conn,
		handler: handler,
		logger:  logger,
	}
}

// Start consumes the device's queue with automatic reconnection until ctx is cancelled
func (c *Consumer) Start(ctx context.Context, deviceKey string) error {
	retryDelay := time.Second
	maxRetryDelay := 30 * time.Second
	retryCount := 0

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping")
			return ctx.Err()
		default:
		}

		err := c.startConsuming(ctx, deviceKey)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		retryCount++
		c.logger.Error("Consumer failed, will retry after delay",
			zap.Error(err),
			zap.String("device", deviceKey),
			zap.Int("retry_count", retryCount),
			zap.Duration("retry_delay", retryDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
			retryDelay = time.Duration(float64(retryDelay) * 1.5)
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
		}
	}
}

// startConsuming handles a single consumption session
func (c *Consumer) startConsuming(ctx context.Context, deviceKey string) error {
	if err := c.conn.EnsureConnection(); err != nil {
		return fmt.Errorf("failed to ensure connection: %w", err)
	}

	// The consumer gets its own channel so publishing is not blocked by deliveries
	c.conn.mu.Lock()
	var ch *amqp.Channel
	err := fmt.Errorf("connection closed")
	if c.conn.conn != nil {
		ch, err = c.conn.conn.Channel()
	}
	if err == nil {
		_, err = c.conn.declareDeviceQueue(ch, deviceKey)
		if err != nil {
			ch.Close()
		}
	}
	c.conn.mu.Unlock()
	if err != nil {
		c.conn.forceClose()
		return fmt.Errorf("failed to prepare device queue: %w", err)
	}
	defer ch.Close()

	hostname, _ := os.Hostname()
	consumerTag := fmt.Sprintf("esphome-designer-%s-%d", hostname, time.Now().Unix())
	queue := DeviceQueue(deviceKey)

	msgs, err := ch.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack (disabled for manual acknowledgment)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		c.logger.Warn("Failed to register consumer, forcing reconnection",
			zap.Error(err),
			zap.String("queue", queue))
		c.conn.forceClose()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Started consuming layout events",
		zap.String("queue", queue),
		zap.String("consumer_tag", consumerTag))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Message channel closed, will reconnect")
				return fmt.Errorf("message channel closed")
			}
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes a single delivery. Events are handled in delivery order.
func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event models.LayoutEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error("Failed to unmarshal layout event",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey))
		msg.Nack(false, false)
		return
	}

	if err := c.handler.HandleLayoutEvent(ctx, &event); err != nil {
		c.logger.Error("Failed to handle layout event",
			zap.Error(err),
			zap.String("device", event.DeviceKey))
		msg.Nack(false, true)
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(err),
			zap.String("device", event.DeviceKey))
	}
}
