// Package settings exposes runtime-tunable values behind a small key/value
// accessor so pipeline components do not bind directly to the config layer.
package settings

import (
	"strconv"
	"strings"

	"permavid/internal/config"
)

// Keys for the settings accessor.
const (
	KeyDownloadDirectory = "download_directory"
	KeyUploadTarget      = "upload_target"
	KeyAutoUpload        = "auto_upload"
	KeyDeleteAfterUpload = "delete_after_upload"
	KeyFilemoonAPIKey    = "filemoon_api_key"
	KeyFilesVCAPIKey     = "files_vc_api_key"
)

// Accessor reads settings by key, returning fallback when a key is unset.
type Accessor interface {
	Get(key, fallback string) string
}

// Static is a fixed in-memory accessor, useful for tests and for snapshotting
// config-derived settings.
type Static map[string]string

// Get implements Accessor.
func (s Static) Get(key, fallback string) string {
	if value, ok := s[key]; ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// FromConfig derives a settings accessor from validated configuration.
func FromConfig(cfg *config.Config) Static {
	if cfg == nil {
		return Static{}
	}
	return Static{
		KeyDownloadDirectory: cfg.Paths.DownloadDir,
		KeyUploadTarget:      cfg.Upload.Target,
		KeyAutoUpload:        strconv.FormatBool(cfg.Upload.AutoUpload),
		KeyDeleteAfterUpload: strconv.FormatBool(cfg.Upload.DeleteAfterUpload),
		KeyFilemoonAPIKey:    cfg.Filemoon.APIKey,
		KeyFilesVCAPIKey:     cfg.FilesVC.APIKey,
	}
}

// View provides typed reads over an accessor.
type View struct {
	accessor Accessor
}

// NewView wraps an accessor with typed getters.
func NewView(accessor Accessor) View {
	return View{accessor: accessor}
}

// DownloadDirectory returns the configured download directory.
func (v View) DownloadDirectory(fallback string) string {
	return v.accessor.Get(KeyDownloadDirectory, fallback)
}

// UploadTarget returns the configured hosting target.
func (v View) UploadTarget() string {
	return strings.ToLower(v.accessor.Get(KeyUploadTarget, "filemoon"))
}

// AutoUpload reports whether completed downloads upload automatically.
func (v View) AutoUpload() bool {
	return v.boolSetting(KeyAutoUpload)
}

// DeleteAfterUpload reports whether local artifacts are removed after a
// successful upload.
func (v View) DeleteAfterUpload() bool {
	return v.boolSetting(KeyDeleteAfterUpload)
}

func (v View) boolSetting(key string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(v.accessor.Get(key, "false")))
	if err != nil {
		return false
	}
	return value
}
