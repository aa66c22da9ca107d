package wagering

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/dotabod/backend-sub002/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit sets the request rate shared by reads and, halved, writes.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.readLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		c.writeLimiter = rate.NewLimiter(rate.Limit(perSecond/2), max(burst/2, 1))
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
