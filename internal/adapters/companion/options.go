package companion

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotabod/backend-sub002/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout bounds a single call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
