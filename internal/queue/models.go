package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of an archive item.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusDownloading  Status = "downloading"
	StatusCompleted    Status = "completed"
	StatusUploading    Status = "uploading"
	StatusTransferring Status = "transferring"
	StatusUploaded     Status = "uploaded"
	StatusEncoding     Status = "encoding"
	StatusEncoded      Status = "encoded"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusCompleted,
	StatusUploading,
	StatusTransferring,
	StatusUploaded,
	StatusEncoding,
	StatusEncoded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// IsTerminal reports whether the status ends the item's lifecycle.
// Encoded items stay in the archive; failed and cancelled items only
// move again through an explicit retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEncoded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsCancellable reports whether a cancel request applies to the status.
func (s Status) IsCancellable() bool {
	switch s {
	case StatusQueued, StatusDownloading:
		return true
	default:
		return false
	}
}

// RemoteTarget identifies a hosting destination for remote references.
type RemoteTarget string

const (
	TargetFilemoon RemoteTarget = "filemoon"
	TargetFilesVC  RemoteTarget = "filesvc"
)

// Item represents an archive item persisted in SQLite.
type Item struct {
	ID               string
	URL              string
	Title            string
	Status           Status
	Message          string
	LocalPath        string
	InfoPath         string
	ThumbnailURL     string
	FilemoonCode     string
	FilesVCCode      string
	EncodingProgress *int
	// Owner optionally attributes the item to a local account. Empty for
	// items enqueued without one.
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewItemID returns a creation-sortable opaque identifier.
func NewItemID(now time.Time) string {
	return now.UTC().Format("20060102150405.000000000") + "-" + uuid.NewString()
}
