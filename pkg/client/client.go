package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the tagqueue HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new tagqueue client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// EnqueueOptions for customizing message enqueue
type EnqueueOptions struct {
	Delay    time.Duration
	Schedule time.Time // wins over Delay when set
}

// Message is a queue row as returned by the API.
type Message struct {
	ID          int64           `json:"id"`
	Tag         string          `json:"tag"`
	Body        json.RawMessage `json:"body"`
	CreatedAt   time.Time       `json:"created_at"`
	ExceptTimes int             `json:"except_times"`
	Schedule    *time.Time      `json:"schedule,omitempty"`
}

// Enqueue sends body to tag and returns the message id.
func (c *Client) Enqueue(ctx context.Context, tag string, body any, opts *EnqueueOptions) (int64, error) {
	if opts == nil {
		opts = &EnqueueOptions{}
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal body: %w", err)
	}

	req := map[string]any{
		"body": json.RawMessage(bodyJSON),
	}
	if !opts.Schedule.IsZero() {
		req["schedule"] = opts.Schedule
	} else if opts.Delay > 0 {
		req["delay_ms"] = opts.Delay.Milliseconds()
	}

	var result struct {
		ID int64 `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, c.tagURL(tag, "/messages"), req, http.StatusCreated, &result); err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	return result.ID, nil
}

// Dequeue removes and returns the oldest visible message of tag, or nil if there is none.
func (c *Client) Dequeue(ctx context.Context, tag string) (*Message, error) {
	var msg Message
	code, err := c.do(ctx, http.MethodPost, c.tagURL(tag, ":dequeue"), nil, http.StatusOK, &msg)
	if code == http.StatusNoContent {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return &msg, nil
}

// List returns the messages of tag nobody is processing.
func (c *Client) List(ctx context.Context, tag string, includeScheduled bool) ([]Message, error) {
	var msgs []Message
	u := c.tagURL(tag, "/messages")
	if includeScheduled {
		u += "?include_scheduled=true"
	}
	if _, err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &msgs); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return msgs, nil
}

func (c *Client) Count(ctx context.Context, tag string, includeScheduled bool) (int64, error) {
	var result struct {
		Count int64 `json:"count"`
	}
	u := c.tagURL(tag, "/count")
	if includeScheduled {
		u += "?include_scheduled=true"
	}
	if _, err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &result); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return result.Count, nil
}

// Cancel deletes message id. It reports false when the message is gone or
// being processed.
func (c *Client) Cancel(ctx context.Context, id int64) (bool, error) {
	u := fmt.Sprintf("%s/v1/messages/%d", c.baseURL, id)
	code, err := c.do(ctx, http.MethodDelete, u, nil, http.StatusOK, nil)
	if code == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	return true, nil
}

func (c *Client) tagURL(tag, suffix string) string {
	return c.baseURL + "/v1/tags/" + url.PathEscape(tag) + suffix
}

// do sends a JSON request and decodes the response into out when the
// status is want. It always returns the status code it saw.
func (c *Client) do(ctx context.Context, method, u string, in any, want int, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%s - %s", resp.Status, bytes.TrimSpace(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
