package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "tradeguard:notifications"

// Publisher is the part of a redis client the publisher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes each notification as JSON on a per-user channel
// "<prefix>:<user_id>" so delivery services can subscribe per user.
type Redis struct {
	client Publisher
	prefix string
}

func NewRedis(client Publisher, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Channel(userID string) string {
	return r.prefix + ":" + userID
}

func (r *Redis) Notify(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(n.UserID), b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
