package cache

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// WebhookDedup drops replayed delivery-channel webhooks. Markers expire on
// their own, so no cleanup loop is needed.
type WebhookDedup struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewWebhookDedup(client *redisv9.Client, ttl time.Duration) *WebhookDedup {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &WebhookDedup{client: client, ttl: ttl}
}

// MarkProcessed returns true when this message id is new; false means a
// duplicate delivery that must be skipped.
func (d *WebhookDedup) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "webhook:msg:"+messageID, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup marker failed: %w", err)
	}
	return ok, nil
}
