// File: internal/backend/http.go
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/auth"
	"github.com/htrap1211/GraphX-OSINT/internal/config"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
	"github.com/htrap1211/GraphX-OSINT/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultMaxResponseSize = 64 << 20
	maxErrorBodyLength     = 512
)

// HTTPClient implements Backend over the JSON REST API.
type HTTPClient struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	creds     *auth.Credentials
	recorder  Recorder
	maxBody   int64
	userAgent string
	logger    *zap.Logger
}

var _ Backend = (*HTTPClient)(nil)

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the pooled client built from the configuration.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.client = c }
}

// WithRecorder attaches a telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(h *HTTPClient) { h.recorder = r }
}

// WithCredentials overrides the credentials derived from the configured token.
func WithCredentials(c *auth.Credentials) Option {
	return func(h *HTTPClient) { h.creds = c }
}

// NewHTTPClient builds a backend client from configuration.
func NewHTTPClient(cfg config.BackendConfig, logger *zap.Logger, opts ...Option) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backend configuration: %w", err)
	}
	creds, err := auth.NewCredentials(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend token: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	netCfg := network.NewDefaultClientConfig()
	if cfg.Timeout > 0 {
		netCfg.RequestTimeout = cfg.Timeout
	}
	netCfg.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	netCfg.Logger = logger

	maxBody := cfg.MaxResponseSize
	if maxBody <= 0 {
		maxBody = defaultMaxResponseSize
	}

	h := &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    network.NewClient(netCfg),
		limiter:   rate.NewLimiter(limit, burst),
		creds:     creds,
		maxBody:   maxBody,
		userAgent: cfg.UserAgent,
		logger:    logger.Named("Backend"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger.Debug("Backend client initialized", zap.String("base_url", h.baseURL), zap.Stringer("credentials", h.creds))
	return h, nil
}

// -- Jobs and graphs --

// GetJob fetches the current status of an enrichment job.
func (h *HTTPClient) GetJob(ctx context.Context, jobID string) (schemas.Job, error) {
	var job schemas.Job
	if strings.TrimSpace(jobID) == "" {
		return job, fmt.Errorf("%w: job id", ErrMissingArgument)
	}
	err := h.do(ctx, "job", http.MethodGet, pathOf("job", jobID), nil, nil, &job)
	return job, err
}

// GetGraph fetches the full graph snapshot of a job.
func (h *HTTPClient) GetGraph(ctx context.Context, jobID string) (schemas.Snapshot, error) {
	var snap schemas.Snapshot
	if strings.TrimSpace(jobID) == "" {
		return snap, fmt.Errorf("%w: job id", ErrMissingArgument)
	}
	err := h.do(ctx, "graph", http.MethodGet, pathOf("graph", jobID), nil, nil, &snap)
	return snap, err
}

// Pivot asks the backend to expand from one entity.
func (h *HTTPClient) Pivot(ctx context.Context, req schemas.PivotRequest) (schemas.PivotResult, error) {
	var res schemas.PivotResult
	if strings.TrimSpace(req.EntityKey) == "" {
		return res, fmt.Errorf("%w: entity key", ErrMissingArgument)
	}
	q := url.Values{}
	q.Set("pivot_type", string(req.Kind))
	q.Set("depth", strconv.Itoa(schemas.ClampDepth(req.Depth)))

	err := h.do(ctx, "pivot", http.MethodPost, pathOf("pivot", req.EntityType.WireName(), req.EntityKey), q, nil, &res)
	if err != nil {
		return res, err
	}
	if res.PivotType == "" {
		res.PivotType = req.Kind
	}
	return res, nil
}

// -- Notes --

type notesEnvelope struct {
	Notes []schemas.Note `json:"notes"`
}

type tagsEnvelope struct {
	Tags []string `json:"tags"`
}

type casesEnvelope struct {
	Cases []schemas.Case `json:"cases"`
}

// ListNotes returns the notes addressed to key.
func (h *HTTPClient) ListNotes(ctx context.Context, key identity.Qualified) ([]schemas.Note, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: entity key", ErrMissingArgument)
	}
	var env notesEnvelope
	if err := h.do(ctx, "notes.list", http.MethodGet, pathOf("notes", key.Key), nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Notes, nil
}

// CreateNote stores a new note.
func (h *HTTPClient) CreateNote(ctx context.Context, req schemas.NoteCreate) (schemas.Note, error) {
	var note schemas.Note
	err := h.do(ctx, "notes.create", http.MethodPost, "/notes", nil, req, &note)
	return note, err
}

// DeleteNote removes a note by id.
func (h *HTTPClient) DeleteNote(ctx context.Context, noteID string) error {
	if strings.TrimSpace(noteID) == "" {
		return fmt.Errorf("%w: note id", ErrMissingArgument)
	}
	return h.do(ctx, "notes.delete", http.MethodDelete, pathOf("notes", noteID), nil, nil, nil)
}

// -- Tags --

// ListTags returns the tag set of key.
func (h *HTTPClient) ListTags(ctx context.Context, key identity.Qualified) ([]string, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: entity key", ErrMissingArgument)
	}
	var env tagsEnvelope
	if err := h.do(ctx, "tags.list", http.MethodGet, pathOf("tags", key.Key), nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Tags, nil
}

// AddTag adds one tag. The backend treats an existing tag as a no-op.
func (h *HTTPClient) AddTag(ctx context.Context, req schemas.Tag) error {
	return h.do(ctx, "tags.add", http.MethodPost, "/tags", nil, req, nil)
}

// RemoveTag removes one tag. The request carries a body, as the backend expects.
func (h *HTTPClient) RemoveTag(ctx context.Context, req schemas.Tag) error {
	return h.do(ctx, "tags.remove", http.MethodDelete, "/tags", nil, req, nil)
}

// PredefinedTags returns the backend's tag vocabulary.
func (h *HTTPClient) PredefinedTags(ctx context.Context) ([]string, error) {
	var env tagsEnvelope
	if err := h.do(ctx, "tags.predefined", http.MethodGet, "/tags/predefined", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Tags, nil
}

// -- Cases --

// ListCases returns every case visible to the caller.
func (h *HTTPClient) ListCases(ctx context.Context) ([]schemas.Case, error) {
	var env casesEnvelope
	if err := h.do(ctx, "cases.list", http.MethodGet, "/cases", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Cases, nil
}

// AttachEntity links an entity to a case.
func (h *HTTPClient) AttachEntity(ctx context.Context, caseID string, ref schemas.EntityRef) error {
	if strings.TrimSpace(caseID) == "" {
		return fmt.Errorf("%w: case id", ErrMissingArgument)
	}
	return h.do(ctx, "cases.attach", http.MethodPost, pathOf("cases", caseID, "entities"), nil, ref, nil)
}

// -- Transport --

// do performs one request, decoding a 2xx JSON body into out when out is non-nil.
func (h *HTTPClient) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		if h.recorder != nil {
			h.recorder.RecordRequest(endpoint, err, time.Since(start))
		}
	}()

	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", endpoint, err)
	}

	target := h.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if err := h.creds.Apply(req); err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}
	if int64(len(data)) > h.maxBody {
		return fmt.Errorf("%s %s: response exceeds %d bytes", method, path, h.maxBody)
	}

	h.logger.Debug("Backend response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: errorDetail(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}

// pathOf joins escaped segments into an absolute path.
func pathOf(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// errorDetail extracts the "detail" field of an error body, or a truncated copy of the raw body.
func errorDetail(data []byte) string {
	var env struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Detail != nil {
		if s, ok := env.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(env.Detail); err == nil {
			return string(b)
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBodyLength {
		s = s[:maxErrorBodyLength]
	}
	return s
}

// IsTransient reports whether err is worth retrying on the next tick: network
// failures, timeouts and 5xx/429 responses. Context cancellation is not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	return !errors.Is(err, ErrMissingArgument) && !errors.Is(err, auth.ErrTokenExpired)
}
