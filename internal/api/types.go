package api

import (
	"encoding/json"
	"time"

	"permavid/internal/queue"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the uniform response shape for every API operation.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID               string `json:"id"`
	URL              string `json:"url"`
	Title            string `json:"title"`
	Status           string `json:"status"`
	Message          string `json:"message"`
	LocalPath        string `json:"localPath,omitempty"`
	InfoPath         string `json:"infoPath,omitempty"`
	ThumbnailURL     string `json:"thumbnailUrl,omitempty"`
	FilemoonCode     string `json:"filemoonCode,omitempty"`
	FilesVCCode      string `json:"filesVcCode,omitempty"`
	EncodingProgress *int   `json:"encodingProgress,omitempty"`
	Owner            string `json:"owner,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
}

// EnqueueResult reports the outcome of an enqueue call. Created is false when
// the URL already had a row; Item then describes the existing row.
type EnqueueResult struct {
	Item    QueueItem `json:"item"`
	Created bool      `json:"created"`
}

// QueueListResponse wraps a collection of queue items.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// ClearResult reports how many rows a bulk clear removed.
type ClearResult struct {
	Removed int64 `json:"removed"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	QueueCounts  map[string]int `json:"queueCounts"`
}

// FromQueueItem converts a store row into its transport shape.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	return QueueItem{
		ID:               item.ID,
		URL:              item.URL,
		Title:            item.Title,
		Status:           string(item.Status),
		Message:          item.Message,
		LocalPath:        item.LocalPath,
		InfoPath:         item.InfoPath,
		ThumbnailURL:     item.ThumbnailURL,
		FilemoonCode:     item.FilemoonCode,
		FilesVCCode:      item.FilesVCCode,
		EncodingProgress: item.EncodingProgress,
		Owner:            item.Owner,
		CreatedAt:        formatTime(item.CreatedAt),
		UpdatedAt:        formatTime(item.UpdatedAt),
	}
}

// FromQueueItems converts a slice of store rows.
func FromQueueItems(items []*queue.Item) []QueueItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format(dateTimeFormat)
}
