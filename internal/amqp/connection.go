package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connection wraps the AMQP connection and channel
type Connection struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.AMQPConfig
	logger  *zap.Logger
}

// NewConnection creates a new AMQP connection and declares the event exchange
func NewConnection(cfg config.AMQPConfig, logger *zap.Logger) (*Connection, error) {
	c := &Connection{
		config: cfg,
		logger: logger,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		c.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.conn = conn
	c.channel = ch
	return nil
}

// EnsureConnection reconnects when the connection or channel was closed
func (c *Connection) EnsureConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	c.closeLocked()

	c.logger.Info("Reconnecting to AMQP", zap.String("exchange", c.config.Exchange))
	return c.connect()
}

// forceClose drops the current connection so the next EnsureConnection redials
func (c *Connection) forceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close closes the AMQP connection and channel
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// DeviceQueue returns the durable queue collecting events for a device
func DeviceQueue(deviceKey string) string {
	return fmt.Sprintf("designer.%s", deviceKey)
}

// declareDeviceQueue declares the device queue and binds it with the device
// key as routing key. Both operations are idempotent.
func (c *Connection) declareDeviceQueue(ch *amqp.Channel, deviceKey string) (string, error) {
	queue := DeviceQueue(deviceKey)

	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare device queue %s: %w", queue, err)
	}

	err = ch.QueueBind(
		queue,             // queue name
		deviceKey,         // routing key (device key)
		c.config.Exchange, // exchange
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to bind device queue %s: %w", queue, err)
	}
	return queue, nil
}

// Notify publishes a layout event with the device key as routing key
func (c *Connection) Notify(ctx context.Context, event *models.LayoutEvent) error {
	if err := c.EnsureConnection(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	queue, err := c.declareDeviceQueue(c.channel, event.DeviceKey)
	if err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal layout event: %w", err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.config.Exchange, // exchange
		event.DeviceKey,   // routing key (device key)
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         event.Type,
			Timestamp:    event.UpdatedAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish layout event: %w", err)
	}

	c.logger.Debug("Published layout event",
		zap.String("device", event.DeviceKey),
		zap.String("type", event.Type),
		zap.String("queue", queue))
	return nil
}
