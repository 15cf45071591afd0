package schemas

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// JobStatus tracks the lifecycle of a backend enrichment job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial" // Finished, but some enrichment tasks failed.
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

// Terminal reports whether the job has stopped making progress.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobPartial, JobFailed:
		return true
	}
	return false
}

// Job is the backend's record of an enrichment run. The engine only reads it.
type Job struct {
	ID             string    `json:"id"`
	Query          string    `json:"query"`
	EntityType     string    `json:"entity_type,omitempty"`
	Status         JobStatus `json:"status"`
	CreatedAt      Timestamp `json:"created_at,omitempty"`
	CompletedAt    Timestamp `json:"completed_at,omitempty"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	Errors         []string  `json:"errors,omitempty"`
}

// Progress returns the completed fraction of tasks in [0,1]. Zero tasks means no progress.
func (j Job) Progress() float64 {
	if j.TotalTasks <= 0 {
		return 0
	}
	p := float64(j.CompletedTasks) / float64(j.TotalTasks)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// timestampLayouts covers RFC 3339 and the zone-less ISO forms the backend emits.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Timestamp decodes the backend's datetimes, which may lack a zone or be epoch millis.
// Zone-less values are interpreted as UTC.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts RFC 3339 strings, zone-less ISO strings, epoch milliseconds, and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		t.Time = time.UnixMilli(int64(ms)).UTC()
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, perr := time.Parse(layout, s); perr == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp format '%s'", s)
}

// MarshalJSON writes RFC 3339, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}
