package redis

import (
	"context"
	"time"
)

type counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter is a fixed-window counter. The first hit in a window starts its expiry.
type RateLimiter struct {
	client counter
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.IncrWindow(ctx, key, window)
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

// CheckoutKey is the per-identity key for checkout creation.
func CheckoutKey(userID string) string {
	return "rate_limit:checkout:" + userID
}
