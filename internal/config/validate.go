package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	valid := false
	for _, target := range UploadTargets {
		if c.Upload.Target == target {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("upload.target must be one of filemoon, filesvc, both, none (got %q)", c.Upload.Target)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"ytdlp.download_timeout":        c.YtDlp.DownloadTimeout,
		"ytdlp.title_timeout":           c.YtDlp.TitleTimeout,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.reconcile_interval":   c.Workflow.ReconcileInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.TransferringTimeout <= c.Workflow.ReconcileInterval {
		return errors.New("workflow.transferring_timeout must be greater than workflow.reconcile_interval")
	}
	if c.Workflow.EncodingTimeout < c.Workflow.TransferringTimeout {
		return errors.New("workflow.encoding_timeout must not be less than workflow.transferring_timeout")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
