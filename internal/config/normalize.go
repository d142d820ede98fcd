package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeYtDlp()
	c.normalizeTargets()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		c.Paths.DownloadDir = defaultDownloadDir
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeYtDlp() {
	c.YtDlp.Binary = strings.TrimSpace(c.YtDlp.Binary)
	if c.YtDlp.Binary == "" {
		c.YtDlp.Binary = defaultYtDlpBinary
	}
	if c.YtDlp.DownloadTimeout <= 0 {
		c.YtDlp.DownloadTimeout = defaultDownloadTimeout
	}
	if c.YtDlp.TitleTimeout <= 0 {
		c.YtDlp.TitleTimeout = defaultTitleTimeout
	}
}

func (c *Config) normalizeTargets() {
	c.Filemoon.BaseURL = strings.TrimRight(strings.TrimSpace(c.Filemoon.BaseURL), "/")
	if c.Filemoon.BaseURL == "" {
		c.Filemoon.BaseURL = defaultFilemoonBaseURL
	}
	c.Filemoon.APIKey = strings.TrimSpace(c.Filemoon.APIKey)
	if c.Filemoon.APIKey == "" {
		if value, ok := os.LookupEnv("FILEMOON_API_KEY"); ok {
			c.Filemoon.APIKey = strings.TrimSpace(value)
		}
	}
	c.FilesVC.UploadURL = strings.TrimSpace(c.FilesVC.UploadURL)
	if c.FilesVC.UploadURL == "" {
		c.FilesVC.UploadURL = defaultFilesVCUploadURL
	}
	c.FilesVC.APIKey = strings.TrimSpace(c.FilesVC.APIKey)
	if c.FilesVC.APIKey == "" {
		if value, ok := os.LookupEnv("FILESVC_API_KEY"); ok {
			c.FilesVC.APIKey = strings.TrimSpace(value)
		}
	}
	c.Upload.Target = strings.ToLower(strings.TrimSpace(c.Upload.Target))
	if c.Upload.Target == "" {
		c.Upload.Target = defaultUploadTarget
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.ReconcileInterval <= 0 {
		c.Workflow.ReconcileInterval = defaultReconcileInterval
	}
	if c.Workflow.TransferringTimeout <= 0 {
		c.Workflow.TransferringTimeout = defaultTransferringTimeout
	}
	if c.Workflow.EncodingTimeout <= 0 {
		c.Workflow.EncodingTimeout = defaultEncodingTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
