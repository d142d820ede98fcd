package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultNormalizeValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !filepath.IsAbs(cfg.Paths.DownloadDir) {
		t.Errorf("expected expanded download dir, got %q", cfg.Paths.DownloadDir)
	}
	if cfg.Upload.Target != "filemoon" {
		t.Errorf("expected default upload target filemoon, got %q", cfg.Upload.Target)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing config file")
	}
	if resolved != path {
		t.Errorf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.YtDlp.Binary != "yt-dlp" {
		t.Errorf("expected default ytdlp binary, got %q", cfg.YtDlp.Binary)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[paths]
download_dir = "` + filepath.Join(dir, "videos") + `"

[filemoon]
base_url = "https://example.test/api/"

[upload]
target = "Both"
auto_upload = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Filemoon.BaseURL != "https://example.test/api" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Filemoon.BaseURL)
	}
	if cfg.Upload.Target != "both" {
		t.Errorf("expected lowercased target, got %q", cfg.Upload.Target)
	}
	if !cfg.Upload.AutoUpload {
		t.Error("expected auto_upload to be true")
	}
	if cfg.Workflow.ReconcileInterval != defaultReconcileInterval {
		t.Errorf("expected default reconcile interval, got %d", cfg.Workflow.ReconcileInterval)
	}
}

func TestLoadRejectsInvalidTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[upload]\ntarget = \"ftp\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid upload target")
	}
	if !strings.Contains(err.Error(), "upload.target") {
		t.Errorf("expected upload.target in error, got %v", err)
	}
}

func TestValidateWorkflowOrdering(t *testing.T) {
	cfg := Default()
	cfg.Workflow.TransferringTimeout = cfg.Workflow.ReconcileInterval
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when transferring_timeout <= reconcile_interval")
	}

	cfg = Default()
	cfg.Workflow.EncodingTimeout = cfg.Workflow.TransferringTimeout - 1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when encoding_timeout < transferring_timeout")
	}
}

func TestNormalizeReadsAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("FILEMOON_API_KEY", "env-key")

	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if cfg.Filemoon.APIKey != "env-key" {
		t.Errorf("expected API key from environment, got %q", cfg.Filemoon.APIKey)
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	expanded, err := ExpandPath("~/permavid-test")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if expanded != filepath.Join(home, "permavid-test") {
		t.Errorf("unexpected expansion: %q", expanded)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[workflow]") {
		t.Error("sample config missing workflow section")
	}

	// The sample must itself be loadable.
	if _, _, _, err := Load(path); err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
}
