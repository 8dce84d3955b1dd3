package store

import (
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/datallboy/stackdl/internal/domain"
)

const recordColumns = `id, download_id, group_name, url, header, force, status, bytes, location, error, created_at, updated_at`

// recordDBO maps to the download_records table
type recordDBO struct {
	ID         string
	DownloadID string
	Group      string
	URL        string
	Header     string
	Force      bool
	Status     string
	Bytes      int64
	Location   string
	Error      string
	CreatedAt  int64
	UpdatedAt  int64
}

// Mapper: DBO to Domain DownloadRecord
func (r *recordDBO) ToDomain() (*domain.DownloadRecord, error) {
	rec := &domain.DownloadRecord{
		ID:         r.ID,
		DownloadID: r.DownloadID,
		Group:      r.Group,
		Request:    domain.Request{URL: r.URL},
		Force:      r.Force,
		Status:     domain.JobStatus(r.Status),
		Bytes:      r.Bytes,
		Location:   r.Location,
		Error:      r.Error,
		CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:  time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.Header != "" && r.Header != "{}" {
		if err := json.Unmarshal([]byte(r.Header), &rec.Request.Header); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Mapper: Domain DownloadRecord to DBO. Missing ids and timestamps are
// filled in on rec as well.
func (r *recordDBO) FromDomain(rec *domain.DownloadRecord) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = ksuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	header := []byte("{}")
	if len(rec.Request.Header) > 0 {
		var err error
		if header, err = json.Marshal(rec.Request.Header); err != nil {
			return err
		}
	}

	r.ID = rec.ID
	r.DownloadID = rec.DownloadID
	r.Group = rec.Group
	r.URL = rec.Request.URL
	r.Header = string(header)
	r.Force = rec.Force
	r.Status = string(rec.Status)
	r.Bytes = rec.Bytes
	r.Location = rec.Location
	r.Error = rec.Error
	r.CreatedAt = rec.CreatedAt.UnixMilli()
	r.UpdatedAt = rec.UpdatedAt.UnixMilli()
	return nil
}

func (r *recordDBO) args() []any {
	return []any{r.ID, r.DownloadID, r.Group, r.URL, r.Header, r.Force, r.Status, r.Bytes, r.Location, r.Error, r.CreatedAt, r.UpdatedAt}
}

func (r *recordDBO) dest() []any {
	return []any{&r.ID, &r.DownloadID, &r.Group, &r.URL, &r.Header, &r.Force, &r.Status, &r.Bytes, &r.Location, &r.Error, &r.CreatedAt, &r.UpdatedAt}
}

// finishedStatuses is the SQL list of terminal statuses.
const finishedStatuses = `'completed', 'failed', 'cancelled'`
