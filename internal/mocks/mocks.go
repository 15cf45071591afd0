// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
)

// -- Backend Mock --

// MockBackend mocks the backend.Backend interface.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GetJob(ctx context.Context, jobID string) (schemas.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return schemas.Job{}, args.Error(1)
	}
	return args.Get(0).(schemas.Job), args.Error(1)
}

func (m *MockBackend) GetGraph(ctx context.Context, jobID string) (schemas.Snapshot, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return schemas.Snapshot{}, args.Error(1)
	}
	return args.Get(0).(schemas.Snapshot), args.Error(1)
}

func (m *MockBackend) Pivot(ctx context.Context, req schemas.PivotRequest) (schemas.PivotResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return schemas.PivotResult{}, args.Error(1)
	}
	return args.Get(0).(schemas.PivotResult), args.Error(1)
}

func (m *MockBackend) ListNotes(ctx context.Context, key identity.Qualified) ([]schemas.Note, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Note), args.Error(1)
}

func (m *MockBackend) CreateNote(ctx context.Context, req schemas.NoteCreate) (schemas.Note, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return schemas.Note{}, args.Error(1)
	}
	return args.Get(0).(schemas.Note), args.Error(1)
}

func (m *MockBackend) DeleteNote(ctx context.Context, noteID string) error {
	return m.Called(ctx, noteID).Error(0)
}

func (m *MockBackend) ListTags(ctx context.Context, key identity.Qualified) ([]string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockBackend) AddTag(ctx context.Context, req schemas.Tag) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockBackend) RemoveTag(ctx context.Context, req schemas.Tag) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockBackend) PredefinedTags(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockBackend) ListCases(ctx context.Context) ([]schemas.Case, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Case), args.Error(1)
}

func (m *MockBackend) AttachEntity(ctx context.Context, caseID string, ref schemas.EntityRef) error {
	return m.Called(ctx, caseID, ref).Error(0)
}

// -- Snapshot Archiver Mock --

// MockArchiver mocks the store.Archiver interface.
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) SaveSnapshot(ctx context.Context, jobID string, revision uint64, snap schemas.Snapshot) error {
	return m.Called(ctx, jobID, revision, snap).Error(0)
}

// -- Request Recorder --

// RecordedRequest is one call captured by RequestRecorder.
type RecordedRequest struct {
	Endpoint string
	Err      error
	Duration time.Duration
}

// RequestRecorder is a thread-safe backend.Recorder that keeps every call.
type RequestRecorder struct {
	mu    sync.Mutex
	calls []RecordedRequest
}

func (r *RequestRecorder) RecordRequest(endpoint string, err error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RecordedRequest{Endpoint: endpoint, Err: err, Duration: d})
}

// Calls returns a copy of the captured calls.
func (r *RequestRecorder) Calls() []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedRequest, len(r.calls))
	copy(out, r.calls)
	return out
}
