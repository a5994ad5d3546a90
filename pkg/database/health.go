package database

import (
	"context"
	"time"
)

// Health is the result of a database health probe.
type Health struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth pings the pool with a bounded timeout. The agent surface's
// /health handler does not call it.
func (c *Client) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.Pool.Ping(ctx); err != nil {
		return Health{Connected: false, Error: err.Error()}
	}
	return Health{Connected: true}
}
