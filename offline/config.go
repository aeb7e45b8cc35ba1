package offline

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// RateLimit paces outbound gateway requests. Zero Interval disables pacing.
type RateLimit struct {
	Interval time.Duration // time between allowed requests
	Burst    int           // max burst size
}

// DefaultRateLimit allows ~20 req/s with a burst of 10, enough for a large flush
// without hammering the server.
func DefaultRateLimit() RateLimit {
	return RateLimit{
		Interval: 50 * time.Millisecond,
		Burst:    10,
	}
}

// Config controls the remote gateway client.
type Config struct {
	BaseURL  string
	DeviceID string
	Timeout  time.Duration // per request (default: 5s)
	Retry    RetryConfig   // retry settings (zero uses defaults)
	Rate     RateLimit     // request pacing (zero disables)

	// TokenSource supplies bearer tokens. When nil, AuthToken is used as a
	// static token.
	TokenSource oauth2.TokenSource
	AuthToken   string

	// HTTPClient overrides the transport; its Timeout is left untouched.
	HTTPClient *http.Client
}

// GetRetryConfig returns Retry config or defaults if not set.
func (c Config) GetRetryConfig() RetryConfig {
	if c.Retry.MaxAttempts == 0 {
		return DefaultRetryConfig()
	}
	return c.Retry
}

func (c Config) tokenSource() oauth2.TokenSource {
	if c.TokenSource != nil {
		return c.TokenSource
	}
	if c.AuthToken == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AuthToken, TokenType: "Bearer"})
}
