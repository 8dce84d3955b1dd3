package domain

import "time"

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusPaused      JobStatus = "paused"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DownloadRecord is the persisted history of one scheduled download
type DownloadRecord struct {
	ID         string    `json:"id"`
	DownloadID string    `json:"download_id"`
	Group      string    `json:"group"`
	Request    Request   `json:"request"`
	Force      bool      `json:"force"`
	Status     JobStatus `json:"status"`
	Bytes      int64     `json:"bytes"`
	Location   string    `json:"location,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
