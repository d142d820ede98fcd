package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrDaemonUnavailable reports that the daemon API could not be reached.
var ErrDaemonUnavailable = errors.New("daemon API unavailable")

// ErrRequestRejected reports a non-success envelope; the message carries
// the server-provided reason.
var ErrRequestRejected = errors.New("request rejected")

// Client talks to a running daemon over its HTTP API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient builds a client for the given bind address (host:port or URL).
func NewClient(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api bind address is empty")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Enqueue submits a URL for archiving.
func (c *Client) Enqueue(ctx context.Context, sourceURL string) (EnqueueResult, string, error) {
	var result EnqueueResult
	message, err := c.do(ctx, http.MethodPost, "/api/queue", map[string]string{"url": sourceURL}, &result)
	return result, message, err
}

// ListActive fetches all non-archived items.
func (c *Client) ListActive(ctx context.Context) ([]QueueItem, error) {
	var payload QueueListResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/queue?view=active", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// ListEncoded fetches the archive gallery.
func (c *Client) ListEncoded(ctx context.Context) ([]QueueItem, error) {
	var payload QueueListResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/queue?view=encoded", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// Get fetches one item by identifier.
func (c *Client) Get(ctx context.Context, id string) (QueueItem, error) {
	var item QueueItem
	_, err := c.do(ctx, http.MethodGet, "/api/queue/"+url.PathEscape(id), nil, &item)
	return item, err
}

// Cancel aborts a queued or downloading item.
func (c *Client) Cancel(ctx context.Context, id string) (string, error) {
	return c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Retry re-queues a failed item.
func (c *Client) Retry(ctx context.Context, id string) (string, error) {
	return c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/retry", nil, nil)
}

// TriggerUpload runs the upload stage for a completed item.
func (c *Client) TriggerUpload(ctx context.Context, id string) (string, error) {
	return c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/upload", nil, nil)
}

// RestartEncoding asks the host to re-run the encode for an item.
func (c *Client) RestartEncoding(ctx context.Context, id string) (string, error) {
	return c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/restart", nil, nil)
}

// Clear removes every item in the given terminal status.
func (c *Client) Clear(ctx context.Context, status string) (ClearResult, string, error) {
	var result ClearResult
	message, err := c.do(ctx, http.MethodPost, "/api/clear", map[string]string{"status": status}, &result)
	return result, message, err
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var status DaemonStatus
	_, err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (string, error) {
	endpoint := c.base.ResolveReference(mustParse(path))

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isConnectionError(err) {
			return "", fmt.Errorf("%w: %s", ErrDaemonUnavailable, c.base.Host)
		}
		return "", err
	}
	defer resp.Body.Close()

	var envelope Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if !envelope.Success {
		return envelope.Message, fmt.Errorf("%w: %s", ErrRequestRejected, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return envelope.Message, err
		}
	}
	return envelope.Message, nil
}

func mustParse(path string) *url.URL {
	parsed, err := url.Parse(path)
	if err != nil {
		return &url.URL{Path: path}
	}
	return parsed
}

func isConnectionError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
