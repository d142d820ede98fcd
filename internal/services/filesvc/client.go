// Package filesvc talks to the Files.vc hosting API. Unlike Filemoon there
// is no server assignment step and no encoding stage: one multipart POST
// yields a permanent URL.
package filesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"permavid/internal/services"
)

// HTTPDoer describes the HTTP client used by the service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result describes a completed Files.vc upload.
type Result struct {
	FileCode string
	URL      string
}

// Service defines the Files.vc operations the pipeline needs.
type Service interface {
	Upload(ctx context.Context, filePath, fileName string) (*Result, error)
}

// Client implements Service over HTTP.
type Client struct {
	uploadURL string
	apiKey    string
	http      HTTPDoer
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

// New constructs a Files.vc client.
func New(uploadURL, apiKey string, opts ...Option) (*Client, error) {
	uploadURL = strings.TrimSpace(uploadURL)
	if uploadURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "filesvc", "", "upload URL required", nil)
	}
	client := &Client{
		uploadURL: uploadURL,
		apiKey:    strings.TrimSpace(apiKey),
		http:      http.DefaultClient,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type uploadResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Result *struct {
		FileCode string `json:"file_code"`
		URL      string `json:"url"`
	} `json:"result"`
}

// Upload sends the file to Files.vc and returns its permanent URL.
func (c *Client) Upload(ctx context.Context, filePath, fileName string) (*Result, error) {
	if c.apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "filesvc", "upload", "API key not configured", nil)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeUploadForm(writer, c.apiKey, fileName, file)
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, pr)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "filesvc", "upload", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "filesvc", "upload", "read response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, services.Wrap(services.ErrExternalTool, "filesvc", "upload",
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "filesvc", "upload", "parse response", err)
	}
	if parsed.Status != 200 || parsed.Result == nil || strings.TrimSpace(parsed.Result.URL) == "" {
		return nil, services.Wrap(services.ErrExternalTool, "filesvc", "upload",
			fmt.Sprintf("API status %d: %s", parsed.Status, parsed.Msg), nil)
	}
	return &Result{FileCode: parsed.Result.FileCode, URL: parsed.Result.URL}, nil
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
