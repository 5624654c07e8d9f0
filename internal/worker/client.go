package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httpretry"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// Client talks to the server's /worker API.
type Client struct {
	base   string
	secret string
	http   httpretry.HTTPDoer
}

// NewClient returns a client with the given per-request timeout. Transient
// failures are retried with backoff.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	doer := httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3)
	return newClient(baseURL, secret, doer)
}

func newClient(baseURL, secret string, doer httpretry.HTTPDoer) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), secret: secret, http: doer}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ListSenders returns every sender of a workspace.
func (c *Client) ListSenders(ctx context.Context, workspaceID string) ([]domain.Sender, error) {
	var res domain.SendersResponse
	err := c.do(ctx, http.MethodGet, "/worker/workspaces/"+url.PathEscape(workspaceID)+"/senders", nil, &res)
	return res.Senders, err
}

// NextActions claims up to limit admitted actions for a sender.
func (c *Client) NextActions(ctx context.Context, senderID string, limit int) ([]domain.Action, error) {
	var res domain.NextActionsResponse
	path := "/worker/senders/" + url.PathEscape(senderID) + "/actions/next?limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	return res.Actions, err
}

// Complete reports a successful action with the driver's result.
func (c *Client) Complete(ctx context.Context, actionID string, result map[string]any) error {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		raw = b
	}
	return c.do(ctx, http.MethodPost, "/worker/actions/"+url.PathEscape(actionID)+"/complete",
		domain.CompleteRequest{Result: raw}, nil)
}

// Fail reports a failed action and whether the server requeued it.
func (c *Client) Fail(ctx context.Context, actionID, msg string) (bool, error) {
	var res struct {
		Requeued bool `json:"requeued"`
	}
	err := c.do(ctx, http.MethodPost, "/worker/actions/"+url.PathEscape(actionID)+"/fail",
		domain.FailRequest{Error: msg}, &res)
	return res.Requeued, err
}

// Release returns a claimed action the worker did not run to the queue.
func (c *Client) Release(ctx context.Context, actionID, reason string) error {
	return c.do(ctx, http.MethodPost, "/worker/actions/"+url.PathEscape(actionID)+"/release",
		domain.ReleaseRequest{Reason: reason}, nil)
}

// Usage returns today's usage and limits for a sender.
func (c *Client) Usage(ctx context.Context, senderID string) (*domain.UsageResponse, error) {
	var res domain.UsageResponse
	if err := c.do(ctx, http.MethodGet, "/worker/senders/"+url.PathEscape(senderID)+"/usage", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Session fetches the sender's saved cookies.
func (c *Client) Session(ctx context.Context, senderID string) ([]domain.Cookie, error) {
	var res domain.SessionPayload
	err := c.do(ctx, http.MethodGet, "/worker/senders/"+url.PathEscape(senderID)+"/session", nil, &res)
	return res.Cookies, err
}

// SaveSession stores freshly captured cookies.
func (c *Client) SaveSession(ctx context.Context, senderID string, cookies []domain.Cookie) error {
	return c.do(ctx, http.MethodPut, "/worker/senders/"+url.PathEscape(senderID)+"/session",
		domain.SessionPayload{Cookies: cookies}, nil)
}

// Credentials fetches the sender's unsealed login material.
func (c *Client) Credentials(ctx context.Context, senderID string) (*domain.Credentials, error) {
	var res domain.Credentials
	if err := c.do(ctx, http.MethodGet, "/worker/senders/"+url.PathEscape(senderID)+"/credentials", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SessionExpired marks the sender's session as expired.
func (c *Client) SessionExpired(ctx context.Context, senderID string) error {
	return c.do(ctx, http.MethodPost, "/worker/senders/"+url.PathEscape(senderID)+"/session-expired", nil, nil)
}

// Pause pauses the sender for reason.
func (c *Client) Pause(ctx context.Context, senderID string, reason domain.PauseReason) error {
	return c.do(ctx, http.MethodPost, "/worker/senders/"+url.PathEscape(senderID)+"/pause",
		domain.PauseRequest{Reason: reason}, nil)
}
