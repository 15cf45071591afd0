// Package backend is the REST client for the enrichment backend. The workspace
// engine consumes it; it owns none of the data it fetches.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
)

// Backend lists every backend operation the engine uses.
type Backend interface {
	GetJob(ctx context.Context, jobID string) (schemas.Job, error)
	GetGraph(ctx context.Context, jobID string) (schemas.Snapshot, error)
	Pivot(ctx context.Context, req schemas.PivotRequest) (schemas.PivotResult, error)

	ListNotes(ctx context.Context, key identity.Qualified) ([]schemas.Note, error)
	CreateNote(ctx context.Context, req schemas.NoteCreate) (schemas.Note, error)
	DeleteNote(ctx context.Context, noteID string) error
	ListTags(ctx context.Context, key identity.Qualified) ([]string, error)
	AddTag(ctx context.Context, req schemas.Tag) error
	RemoveTag(ctx context.Context, req schemas.Tag) error
	PredefinedTags(ctx context.Context) ([]string, error)

	ListCases(ctx context.Context) ([]schemas.Case, error)
	AttachEntity(ctx context.Context, caseID string, ref schemas.EntityRef) error
}

// Recorder receives per-request telemetry. *metrics.Registry implements it.
type Recorder interface {
	RecordRequest(endpoint string, err error, duration time.Duration)
}

// ErrMissingArgument is returned before any request is made when a required path
// argument is blank.
var ErrMissingArgument = errors.New("missing required argument")

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: backend returned %d", e.Method, e.Path, e.StatusCode)
}

// Temporary reports whether retrying later may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}
