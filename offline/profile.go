package offline

import (
	"context"
	"net/http"
)

// Profile is the signed-in user's profile as stored remotely.
type Profile struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Fields    Fields `json:"fields,omitempty"`
}

// GetProfile reads GET /v1/profile.
func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	return WithRetry(ctx, c.cfg.GetRetryConfig(), "profile", "", func() (Profile, error) {
		var out Profile
		err := c.do(ctx, http.MethodGet, "/v1/profile", "", nil, &out)
		return out, err
	})
}

// UpdateProfile writes PUT /v1/profile and returns the stored profile.
func (c *Client) UpdateProfile(ctx context.Context, p Profile) (Profile, error) {
	return WithRetry(ctx, c.cfg.GetRetryConfig(), "profile", "", func() (Profile, error) {
		var out Profile
		err := c.do(ctx, http.MethodPut, "/v1/profile", "", p, &out)
		return out, err
	})
}
