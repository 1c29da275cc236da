package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// channelPrefix scopes layout event channels; the device key follows it
const channelPrefix = "layout:"

// Client wraps the Redis client shared by the layout store and pub/sub
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
}

// NewClient creates a new Redis client
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	// Test the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return &Client{
		client: rdb,
		config: cfg,
		logger: logger,
	}, nil
}

// Redis exposes the underlying client for the layout store
func (c *Client) Redis() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// ChannelFor returns the pub/sub channel carrying events for a device
func ChannelFor(deviceKey string) string {
	return channelPrefix + deviceKey
}

// Notify publishes a layout event to the device-specific channel
func (c *Client) Notify(ctx context.Context, event *models.LayoutEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal layout event: %w", err)
	}

	channel := ChannelFor(event.DeviceKey)
	if err := c.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}

	c.logger.Debug("Published layout event",
		zap.String("channel", channel),
		zap.String("type", event.Type),
		zap.String("device", event.DeviceKey))

	return nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
