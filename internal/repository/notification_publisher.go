package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/lab-result-api/internal/models"
)

// RedisNotificationPublisher fans result notifications out over a Redis pub/sub channel.
type RedisNotificationPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisNotificationPublisher constructs the publisher.
func NewRedisNotificationPublisher(client *redis.Client, channel string) *RedisNotificationPublisher {
	return &RedisNotificationPublisher{client: client, channel: channel}
}

// Publish sends one notification. A publisher without a client drops messages.
func (p *RedisNotificationPublisher) Publish(ctx context.Context, notification models.ResultNotification) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", notification.ID, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}
