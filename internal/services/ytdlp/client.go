// Package ytdlp wraps the yt-dlp command line tool for title probes and
// video downloads with streaming progress.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"permavid/internal/services"
)

// ProgressUpdate captures yt-dlp download progress output.
type ProgressUpdate struct {
	Percent float64
}

// Result describes the artifacts a download produced.
type Result struct {
	Title     string
	VideoPath string
	InfoPath  string
}

// Downloader defines the behaviour required by the download stage.
type Downloader interface {
	ProbeTitle(ctx context.Context, url string) (string, error)
	Download(ctx context.Context, url, destDir, stem string, progress func(ProgressUpdate)) (*Result, error)
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps yt-dlp CLI interactions.
type Client struct {
	binary          string
	downloadTimeout time.Duration
	titleTimeout    time.Duration
	exec            Executor
}

// New constructs a yt-dlp client.
func New(binary string, downloadTimeoutSeconds, titleTimeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("yt-dlp binary required")
	}
	client := &Client{
		binary:          binary,
		downloadTimeout: time.Duration(downloadTimeoutSeconds) * time.Second,
		titleTimeout:    time.Duration(titleTimeoutSeconds) * time.Second,
		exec:            commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

var progressPattern = regexp.MustCompile(`\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)

// ParseProgress extracts a percentage from a yt-dlp output line.
func ParseProgress(line string) (ProgressUpdate, bool) {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return ProgressUpdate{}, false
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return ProgressUpdate{}, false
	}
	return ProgressUpdate{Percent: percent}, true
}

// ProbeTitle fetches the video title without downloading anything.
func (c *Client) ProbeTitle(ctx context.Context, url string) (string, error) {
	probeCtx := ctx
	if c.titleTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, c.titleTimeout)
		defer cancel()
	}

	args := []string{"--get-title", "--no-warnings", "--skip-download", url}

	var title string
	err := c.exec.Run(probeCtx, c.binary, args, func(line string) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "ERROR:") {
			return
		}
		if title == "" {
			title = line
		}
	})
	if err != nil {
		return "", classifyRunError(probeCtx, "probe title", err, "")
	}
	if title == "" {
		return "", services.Wrap(services.ErrExternalTool, "download", "yt-dlp", "probe returned no title", nil)
	}
	return title, nil
}

// Download fetches the URL into destDir using stem as the file name base. The
// metadata sidecar is written next to the video as <stem>.info.json.
func (c *Client) Download(ctx context.Context, url, destDir, stem string, progress func(ProgressUpdate)) (*Result, error) {
	if strings.TrimSpace(destDir) == "" {
		return nil, errors.New("destination directory required")
	}
	stem = SanitizeStem(stem)
	if stem == "" {
		stem = "permavid-video"
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	dlCtx := ctx
	if c.downloadTimeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, c.downloadTimeout)
		defer cancel()
	}

	outputTemplate := filepath.Join(destDir, stem+".%(ext)s")
	args := []string{
		"--newline",
		"--progress",
		"--no-warnings",
		"--write-info-json",
		"--output", outputTemplate,
		url,
	}

	var lastError string
	err := c.exec.Run(dlCtx, c.binary, args, func(line string) {
		if strings.HasPrefix(strings.TrimSpace(line), "ERROR:") {
			lastError = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "ERROR:"))
		}
		if progress == nil {
			return
		}
		if update, ok := ParseProgress(line); ok {
			progress(update)
		}
	})
	if err != nil {
		return nil, classifyRunError(dlCtx, "fetch", err, lastError)
	}

	result := &Result{Title: stem}
	result.VideoPath, result.InfoPath = locateArtifacts(destDir, stem)
	if result.VideoPath == "" && result.InfoPath == "" {
		return nil, services.Wrap(services.ErrExternalTool, "download", "yt-dlp", "produced no output files", nil)
	}
	return result, nil
}

func classifyRunError(ctx context.Context, operation string, err error, detail string) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "download", operation, "yt-dlp timed out", err)
	case errors.Is(ctx.Err(), context.Canceled):
		return services.Wrap(services.ErrCancelled, "download", operation, "cancelled", err)
	default:
		if detail == "" {
			detail = "yt-dlp failed"
		}
		return services.Wrap(services.ErrExternalTool, "download", operation, detail, err)
	}
}

// locateArtifacts finds the downloaded video and its metadata sidecar. The
// sidecar has a fixed name; the video keeps whatever extension yt-dlp chose.
func locateArtifacts(destDir, stem string) (videoPath, infoPath string) {
	infoCandidate := filepath.Join(destDir, stem+".info.json")
	if _, err := os.Stat(infoCandidate); err == nil {
		infoPath = infoCandidate
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return videoPath, infoPath
	}
	var best os.FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, stem+".") {
			continue
		}
		lower := strings.ToLower(name)
		if strings.HasSuffix(lower, ".info.json") || strings.HasSuffix(lower, ".part") || strings.HasSuffix(lower, ".ytdl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == nil || info.Size() > best.Size() {
			best = info
			videoPath = filepath.Join(destDir, name)
		}
	}
	return videoPath, infoPath
}

const maxStemLength = 200

// SanitizeStem converts a video title into a safe file name base. Reserved
// characters become underscores and the result is capped at 200 characters.
func SanitizeStem(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch {
		case r < 0x20, r == 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	stem := b.String()
	if len(stem) > maxStemLength {
		cut := maxStemLength
		for cut > 0 && !utf8StartByte(stem[cut]) {
			cut--
		}
		stem = stem[:cut]
	}
	return strings.Trim(stem, " .\t_")
}

func utf8StartByte(b byte) bool {
	return b&0xC0 != 0x80
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
