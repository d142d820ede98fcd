// Package filemoon talks to the Filemoon hosting API: multipart uploads
// against a dynamically assigned server, encoding telemetry, and encode
// restarts.
package filemoon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"permavid/internal/services"
)

// HTTPDoer describes the HTTP client used by the service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EncodeState classifies remote encoding telemetry. Unknown means the API
// answered with a state this client does not recognize; callers keep waiting
// rather than guessing.
type EncodeState string

const (
	EncodeStateEncoding EncodeState = "encoding"
	EncodeStateFinished EncodeState = "finished"
	EncodeStateErrored  EncodeState = "errored"
	EncodeStateUnknown  EncodeState = "unknown"
)

// EncodeStatus is one parsed entry from the in-flight encode list. RawState
// keeps the API's original status string for surfacing unrecognized states.
type EncodeStatus struct {
	FileCode string
	State    EncodeState
	RawState string
	Progress *int
	Error    string
}

// Service defines the Filemoon operations the pipeline needs.
type Service interface {
	Upload(ctx context.Context, filePath, fileName string) (string, error)
	EncodingList(ctx context.Context) ([]EncodeStatus, error)
	RestartEncoding(ctx context.Context, fileCode string) error
}

// Client implements Service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    HTTPDoer
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient injects a custom HTTP client (primarily for tests).
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// New constructs a Filemoon client.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "filemoon", "", "base URL required", nil)
	}
	client := &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (c *Client) requireKey(operation string) error {
	if c.apiKey == "" {
		return services.Wrap(services.ErrConfiguration, "filemoon", operation, "API key not configured", nil)
	}
	return nil
}

type serverResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Result string `json:"result"`
}

type uploadResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Files  []struct {
		FileCode string `json:"filecode"`
		FileName string `json:"filename"`
		Status   string `json:"status"`
	} `json:"files"`
}

type encodingListResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Result []struct {
		FileCode string          `json:"file_code"`
		Progress json.RawMessage `json:"progress"`
		Status   string          `json:"status"`
		Error    string          `json:"error"`
	} `json:"result"`
}

type restartResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// uploadServer asks the API for the server URL uploads must target. Filemoon
// assigns these dynamically, so every upload starts with this call.
func (c *Client) uploadServer(ctx context.Context) (string, error) {
	if err := c.requireKey("upload server"); err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/upload/server?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build upload server request: %w", err)
	}

	var parsed serverResponse
	if err := c.doJSON(req, "upload server", &parsed); err != nil {
		return "", err
	}
	if parsed.Status != 200 || strings.TrimSpace(parsed.Result) == "" {
		return "", services.Wrap(services.ErrExternalTool, "filemoon", "upload server",
			fmt.Sprintf("API status %d: %s", parsed.Status, parsed.Msg), nil)
	}
	return parsed.Result, nil
}

// Upload sends the file to Filemoon and returns the assigned file code.
func (c *Client) Upload(ctx context.Context, filePath, fileName string) (string, error) {
	serverURL, err := c.uploadServer(ctx)
	if err != nil {
		return "", err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeUploadForm(writer, c.apiKey, fileName, file)
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, pr)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var parsed uploadResponse
	if err := c.doJSON(req, "upload", &parsed); err != nil {
		return "", err
	}
	if parsed.Status != 200 || len(parsed.Files) == 0 || strings.TrimSpace(parsed.Files[0].FileCode) == "" {
		return "", services.Wrap(services.ErrExternalTool, "filemoon", "upload",
			fmt.Sprintf("API status %d: %s", parsed.Status, parsed.Msg), nil)
	}
	return parsed.Files[0].FileCode, nil
}

func writeUploadForm(writer *multipart.Writer, apiKey, fileName string, file io.Reader) error {
	if err := writer.WriteField("key", apiKey); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return writer.Close()
}

// EncodingList fetches every in-flight encode for the account. Raw API
// payloads are mapped to typed EncodeStatus values at this boundary;
// unrecognized states come back as EncodeStateUnknown with RawState set.
func (c *Client) EncodingList(ctx context.Context) ([]EncodeStatus, error) {
	if err := c.requireKey("encoding list"); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/encoding/list?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build encoding list request: %w", err)
	}

	var parsed encodingListResponse
	if err := c.doJSON(req, "encoding list", &parsed); err != nil {
		return nil, err
	}
	if parsed.Status != 200 {
		return nil, services.Wrap(services.ErrExternalTool, "filemoon", "encoding list",
			fmt.Sprintf("API status %d: %s", parsed.Status, parsed.Msg), nil)
	}

	statuses := make([]EncodeStatus, 0, len(parsed.Result))
	for _, entry := range parsed.Result {
		status := EncodeStatus{
			FileCode: entry.FileCode,
			RawState: strings.ToUpper(strings.TrimSpace(entry.Status)),
			Error:    strings.TrimSpace(entry.Error),
		}
		switch status.RawState {
		case "ENCODING", "PENDING", "QUEUED":
			status.State = EncodeStateEncoding
		case "FINISHED", "ACTIVE", "COMPLETED":
			status.State = EncodeStateFinished
		case "ERROR":
			status.State = EncodeStateErrored
		default:
			status.State = EncodeStateUnknown
		}
		if progress, ok := parseProgress(entry.Progress); ok {
			status.Progress = &progress
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// parseProgress accepts the API's progress field, which arrives as either a
// bare number or a numeric string.
func parseProgress(raw json.RawMessage) (int, bool) {
	trimmed := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if trimmed == "" || trimmed == "null" {
		return 0, false
	}
	if value, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return int(value), true
	}
	return 0, false
}

// RestartEncoding asks Filemoon to re-run the encode for a file code.
func (c *Client) RestartEncoding(ctx context.Context, fileCode string) error {
	if err := c.requireKey("restart encoding"); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("file_code", fileCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/restart", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build restart request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var parsed restartResponse
	if err := c.doJSON(req, "restart encoding", &parsed); err != nil {
		return err
	}
	if parsed.Status != 200 {
		return services.Wrap(services.ErrExternalTool, "filemoon", "restart encoding",
			fmt.Sprintf("API status %d: %s", parsed.Status, parsed.Msg), nil)
	}
	return nil
}

func (c *Client) doJSON(req *http.Request, operation string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "filemoon", operation, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return services.Wrap(services.ErrTransient, "filemoon", operation, "read response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return services.Wrap(services.ErrExternalTool, "filemoon", operation,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrExternalTool, "filemoon", operation, "parse response", err)
	}
	return nil
}
