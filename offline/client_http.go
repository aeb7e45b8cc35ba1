package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Client performs task CRUD RPCs against the remote store.
type Client struct {
	cfg     Config
	hc      *http.Client
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
}

var _ Gateway = (*Client)(nil)
var _ ProfileGateway = (*Client)(nil)

// NewClient builds a client with optional timeout override.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		to := cfg.Timeout
		if to == 0 {
			to = 5 * time.Second
		}
		hc = &http.Client{Timeout: to}
	}
	c := &Client{
		cfg:    cfg,
		hc:     hc,
		tokens: cfg.tokenSource(),
	}
	if cfg.Rate.Interval > 0 {
		burst := cfg.Rate.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(cfg.Rate.Interval), burst)
	}
	return c
}

// Configured reports whether the client has a server and credentials.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.tokens != nil
}

// listResp is returned by GET /v1/tasks.
type listResp struct {
	Items []Record `json:"items"`
}

// createReq is sent to POST /v1/tasks; the id is assigned by the server.
type createReq struct {
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
}

// FetchAll downloads the full authoritative record list.
func (c *Client) FetchAll(ctx context.Context) ([]Record, error) {
	return WithRetry(ctx, c.cfg.GetRetryConfig(), "fetch", "", func() ([]Record, error) {
		var out listResp
		if err := c.do(ctx, http.MethodGet, "/v1/tasks", "", nil, &out); err != nil {
			return nil, err
		}
		return out.Items, nil
	})
}

// CreateRemote sends a pending create once. The local id travels as the
// Idempotency-Key so a server that saw a timed-out attempt can dedupe.
func (c *Client) CreateRemote(ctx context.Context, rec Record) (Record, error) {
	body := createReq{Fields: rec.Fields, CreatedAt: rec.CreatedAt}
	var out Record
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", string(rec.ID), body, &out); err != nil {
		return Record{}, wrapSyncError("create", rec.ID, err, 1)
	}
	if out.ID == "" {
		return Record{}, wrapSyncError("create", rec.ID, serverError("response missing id"), 1)
	}
	return out, nil
}

// UpdateRemote sends a partial update and returns the full stored record.
func (c *Client) UpdateRemote(ctx context.Context, id ID, p Patch) (Record, error) {
	return WithRetry(ctx, c.cfg.GetRetryConfig(), "update", id, func() (Record, error) {
		var out Record
		if err := c.do(ctx, http.MethodPatch, "/v1/tasks/"+url.PathEscape(string(id)), "", p, &out); err != nil {
			return Record{}, err
		}
		return out, nil
	})
}

// DeleteRemote deletes a record on the server.
func (c *Client) DeleteRemote(ctx context.Context, id ID) error {
	_, err := WithRetry(ctx, c.cfg.GetRetryConfig(), "delete", id, func() (struct{}, error) {
		return struct{}{}, c.do(ctx, http.MethodDelete, "/v1/tasks/"+url.PathEscape(string(id)), "", nil, nil)
	})
	return err
}

// HealthStatus is the result of a health probe.
type HealthStatus struct {
	OK         bool
	Latency    time.Duration
	ServerTime time.Time
	Err        error
}

// Health probes GET /v1/health. It never returns an error; failures are
// reported in the status.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/health", nil)
	if err != nil {
		return HealthStatus{Err: err}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return HealthStatus{Err: networkError(err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	status := HealthStatus{Latency: time.Since(start)}
	if resp.StatusCode != http.StatusOK {
		status.Err = statusError(resp)
		return status
	}
	var body struct {
		OK   bool  `json:"ok"`
		Time int64 `json:"time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		status.Err = serverError("decode health: " + err.Error())
		return status
	}
	status.OK = body.OK
	status.ServerTime = time.Unix(body.Time, 0).UTC()
	return status
}

func (c *Client) do(ctx context.Context, method, path, idemKey string, body, out any) error {
	if c.cfg.BaseURL == "" {
		return ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return networkError(err)
		}
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.cfg.DeviceID != "" {
		req.Header.Set("X-Device-Id", c.cfg.DeviceID)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return &remoteError{kind: ErrUnauthorized, detail: err.Error()}
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return networkError(err)
		}
		return serverError("decode response: " + err.Error())
	}
	return nil
}

// remoteError ties a failure to one sentinel plus the server's message.
type remoteError struct {
	kind   error
	status int
	detail string
}

func (e *remoteError) Error() string {
	switch {
	case e.status != 0 && e.detail != "":
		return fmt.Sprintf("%v: %d %s", e.kind, e.status, e.detail)
	case e.status != 0:
		return fmt.Sprintf("%v: %d", e.kind, e.status)
	case e.detail != "":
		return fmt.Sprintf("%v: %s", e.kind, e.detail)
	default:
		return e.kind.Error()
	}
}

func (e *remoteError) Unwrap() error { return e.kind }

func networkError(err error) error {
	return &remoteError{kind: ErrNetworkFailure, detail: err.Error()}
}

func serverError(detail string) error {
	return &remoteError{kind: ErrServerError, detail: detail}
}

func statusError(resp *http.Response) error {
	re := &remoteError{status: resp.StatusCode, detail: decodeErrorBody(resp)}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		re.kind = ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		re.kind = ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		re.kind = ErrNetworkFailure
	default:
		re.kind = ErrServerError
	}
	return re
}

func decodeErrorBody(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(b) == 0 {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(b))
}
