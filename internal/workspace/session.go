// Package workspace ties the engine together. A Session owns the graph, the
// annotation store and the selection for one backend job, runs the job and
// graph poll loops, and publishes everything that happens on its event bus.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/annotations"
	"github.com/htrap1211/GraphX-OSINT/internal/backend"
	"github.com/htrap1211/GraphX-OSINT/internal/bus"
	"github.com/htrap1211/GraphX-OSINT/internal/config"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
	"github.com/htrap1211/GraphX-OSINT/internal/knowledgegraph"
	"github.com/htrap1211/GraphX-OSINT/internal/metrics"
	"github.com/htrap1211/GraphX-OSINT/internal/pivot"
	"github.com/htrap1211/GraphX-OSINT/internal/poller"
	"github.com/htrap1211/GraphX-OSINT/internal/risk"
	"github.com/htrap1211/GraphX-OSINT/internal/store"
)

// Names of the two poll loops.
const (
	LoopJob   = "job"
	LoopGraph = "graph"
)

const defaultBusBuffer = 64

var (
	ErrSessionClosed  = errors.New("workspace session is closed")
	ErrEntityNotFound = errors.New("entity not found in graph")
	ErrNotAttachable  = errors.New("entity cannot be attached to a case")
)

var jobStatuses = []string{
	string(schemas.JobPending),
	string(schemas.JobRunning),
	string(schemas.JobCompleted),
	string(schemas.JobPartial),
	string(schemas.JobFailed),
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records loop, pivot and graph telemetry into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Session) { s.metrics = r }
}

// WithArchiver persists every applied snapshot.
func WithArchiver(a store.Archiver) Option {
	return func(s *Session) { s.archiver = a }
}

// WithBusBuffer sets the per-subscriber event buffer.
func WithBusBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.busBuffer = n
		}
	}
}

// Session is one open workspace for a backend job.
type Session struct {
	id     string
	jobID  string
	client backend.Backend
	logger *zap.Logger

	graph  *knowledgegraph.Graph
	notes  *annotations.Store
	events *bus.Bus
	pivots *pivot.Controller
	loops  *poller.Poller
	sel    selection

	metrics   *metrics.Registry
	archiver  store.Archiver
	busBuffer int

	jobMu  sync.RWMutex
	job    schemas.Job
	hasJob bool

	cancel    context.CancelFunc
	done      chan struct{}
	unobserve func()
	closed    atomic.Bool
	closeOnce sync.Once
}

// Open creates a session for jobID and starts both poll loops. Each loop ticks
// immediately. The session runs until Close is called or ctx is cancelled.
func Open(ctx context.Context, client backend.Backend, jobID string, cfg *config.Config, opts ...Option) (*Session, error) {
	if client == nil {
		return nil, errors.New("workspace requires a backend client")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("workspace requires a job id")
	}
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	s := &Session{
		id:        uuid.NewString(),
		jobID:     jobID,
		client:    client,
		logger:    zap.NewNop(),
		busBuffer: defaultBusBuffer,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("Workspace").With(zap.String("session_id", s.id), zap.String("job_id", jobID))

	s.graph = knowledgegraph.NewGraph(s.logger)
	s.notes = annotations.NewStore(client, s.logger)
	s.events = bus.New(s.logger, s.busBuffer)
	s.unobserve = s.graph.Observe(s.onGraphChange)
	s.pivots = pivot.NewController(client, s.graph, func() { s.loops.Trigger(LoopGraph) }, cfg.Pivot, s.metrics, s.logger)

	loops, err := poller.New(s.logger, s.metrics,
		poller.Loop{Name: LoopJob, Interval: cfg.Poller.JobInterval, MaxBackoff: cfg.Poller.MaxBackoff, Tick: s.pollJob},
		poller.Loop{Name: LoopGraph, Interval: cfg.Poller.GraphInterval, MaxBackoff: cfg.Poller.MaxBackoff, Tick: s.pollGraph},
	)
	if err != nil {
		s.unobserve()
		s.events.Shutdown()
		return nil, fmt.Errorf("failed to create poll loops: %w", err)
	}
	s.loops = loops

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		if err := s.loops.Run(runCtx); err != nil {
			s.logger.Error("Poll loops exited with error", zap.Error(err))
		}
	}()
	s.logger.Info("Workspace session opened")
	return s, nil
}

// ID is the session's unique id.
func (s *Session) ID() string { return s.id }

// JobID is the backend job the session follows.
func (s *Session) JobID() string { return s.jobID }

// Done is closed once every poll loop has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Graph exposes the session's graph for reads. Mutate it only through the session.
func (s *Session) Graph() *knowledgegraph.Graph { return s.graph }

// Events subscribes to session events. With no types every event is delivered.
func (s *Session) Events(types ...bus.EventType) (<-chan bus.Event, func()) {
	return s.events.Subscribe(types...)
}

// Job returns the last successfully fetched job record.
func (s *Session) Job() (schemas.Job, bool) {
	s.jobMu.RLock()
	defer s.jobMu.RUnlock()
	return s.job, s.hasJob
}

// Stats summarises the current graph.
func (s *Session) Stats() knowledgegraph.Stats { return s.graph.Stats() }

// Assess classifies the node with the given id.
func (s *Session) Assess(id string) (risk.Assessment, bool) {
	n, ok := s.graph.Node(id)
	if !ok {
		return risk.Assessment{}, false
	}
	return risk.Classify(n), true
}

// Trigger forces an immediate tick of the named loop.
func (s *Session) Trigger(loop string) bool {
	if s.closed.Load() {
		return false
	}
	return s.loops.Trigger(loop)
}

// -- Poll loops --

func (s *Session) pollJob(ctx context.Context) error {
	job, err := s.client.GetJob(ctx, s.jobID)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		s.transient("job_poll", "failed to refresh job status", err)
		return err
	}

	s.jobMu.Lock()
	prev, had := s.job, s.hasJob
	s.job, s.hasJob = job, true
	s.jobMu.Unlock()

	s.metrics.SetJobStatus(string(job.Status), jobStatuses)
	if had && reflect.DeepEqual(prev, job) {
		return nil
	}
	update := JobUpdate{Job: job}
	if had {
		update.Previous = prev.Status
		if prev.Status != job.Status {
			s.logger.Info("Job status changed", zap.Stringer("from", prev.Status), zap.Stringer("to", job.Status))
		}
	}
	s.publish(bus.EventJobUpdated, update)
	return nil
}

func (s *Session) pollGraph(ctx context.Context) error {
	snap, err := s.client.GetGraph(ctx, s.jobID)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		s.transient("graph_poll", "failed to refresh graph, showing last snapshot", err)
		return err
	}

	change := s.graph.ReplaceSnapshot(snap)
	s.metrics.SnapshotApplied()
	s.reconcileSelection(ctx)

	if s.archiver != nil {
		if err := s.archiver.SaveSnapshot(ctx, s.jobID, change.Revision, snap); err != nil && ctx.Err() == nil {
			s.logger.Warn("Failed to archive snapshot", zap.Uint64("revision", change.Revision), zap.Error(err))
		}
	}
	return nil
}

// onGraphChange runs after every graph mutation, outside the graph lock.
func (s *Session) onGraphChange(c knowledgegraph.Change) {
	stats := s.graph.Stats()
	byLevel := make(map[string]int, len(stats.ByLevel))
	for level, n := range stats.ByLevel {
		byLevel[string(level)] = n
	}
	s.metrics.ObserveGraph(stats.Nodes, stats.Edges, stats.Dangling, byLevel)

	switch c.Kind {
	case knowledgegraph.ChangeReplaced:
		s.publish(bus.EventSnapshotReplaced, GraphUpdate{Change: c, Stats: stats})
	case knowledgegraph.ChangeMerged:
		s.publish(bus.EventMergeApplied, GraphUpdate{Change: c, Stats: stats})
	}
}

// -- Selection --

// Select makes the node with the given id the inspected entity and loads its
// annotations. A failed annotation load keeps whatever part succeeded.
func (s *Session) Select(ctx context.Context, id string) (schemas.Entity, error) {
	if s.closed.Load() {
		return schemas.Entity{}, ErrSessionClosed
	}
	n, ok := s.graph.Node(id)
	if !ok {
		return schemas.Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	key := s.sel.set(n)
	ent := n.Clone()
	s.publish(bus.EventSelectionChanged, SelectionUpdate{Entity: &ent, Key: key, Reason: SelectionSelected})

	err := s.notes.Load(ctx, key)
	s.publishAnnotations(key)
	if err != nil {
		s.transient("annotations", "failed to load annotations", err)
		return n, err
	}
	return n, nil
}

// Selected returns the inspected entity and its qualified key.
func (s *Session) Selected() (schemas.Entity, identity.Qualified, bool) {
	return s.sel.get()
}

// ClearSelection drops the selection and its annotations.
func (s *Session) ClearSelection() {
	_, key, ok := s.sel.get()
	if !ok {
		return
	}
	s.sel.clear()
	s.notes.Clear()
	s.publish(bus.EventSelectionChanged, SelectionUpdate{Key: key, Reason: SelectionCleared})
}

// reconcileSelection keeps the selection valid after a snapshot replacement.
// Annotations survive whenever the qualified key does.
func (s *Session) reconcileSelection(ctx context.Context) {
	plan := s.sel.reconcile(s.graph)
	if plan.reason == "" || !plan.changed {
		return
	}
	switch plan.reason {
	case SelectionCleared:
		s.notes.Clear()
		s.logger.Debug("Selected entity left the graph", zap.Stringer("key", plan.key))
		s.publish(bus.EventSelectionChanged, SelectionUpdate{Key: plan.key, Reason: plan.reason})
		return
	case SelectionRebound:
		s.logger.Debug("Selection rebound by key", zap.Stringer("key", plan.key), zap.String("id", plan.entity.ID))
	}
	ent := plan.entity
	s.publish(bus.EventSelectionChanged, SelectionUpdate{Entity: &ent, Key: plan.key, Reason: plan.reason})

	if plan.keyChanged {
		if err := s.notes.Load(ctx, plan.key); err != nil && ctx.Err() == nil {
			s.transient("annotations", "failed to load annotations", err)
		}
		s.publishAnnotations(plan.key)
	}
}

// -- Annotations --

// Annotations returns the loaded notes and tags of the selection.
func (s *Session) Annotations() annotations.View { return s.notes.View() }

// AddNote attaches a note to the selection.
func (s *Session) AddNote(ctx context.Context, content string) error {
	return s.annotate(ctx, func(ctx context.Context) error { return s.notes.AddNote(ctx, content) })
}

// DeleteNote removes a note of the selection.
func (s *Session) DeleteNote(ctx context.Context, noteID string) error {
	return s.annotate(ctx, func(ctx context.Context) error { return s.notes.DeleteNote(ctx, noteID) })
}

// AddTag adds a tag to the selection. Adding a present tag is a no-op.
func (s *Session) AddTag(ctx context.Context, tag string) error {
	return s.annotate(ctx, func(ctx context.Context) error { return s.notes.AddTag(ctx, tag) })
}

// RemoveTag removes a tag from the selection. Removing an absent tag is a no-op.
func (s *Session) RemoveTag(ctx context.Context, tag string) error {
	return s.annotate(ctx, func(ctx context.Context) error { return s.notes.RemoveTag(ctx, tag) })
}

// PredefinedTags lists the tag vocabulary.
func (s *Session) PredefinedTags(ctx context.Context) []string {
	return s.notes.PredefinedTags(ctx)
}

func (s *Session) annotate(ctx context.Context, mutate func(context.Context) error) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	err := mutate(ctx)
	if isValidation(err) {
		return err
	}
	if err != nil {
		s.transient("annotations", "annotation update failed", err)
	}
	s.publishAnnotations(s.notes.Key())
	return err
}

func (s *Session) publishAnnotations(key identity.Qualified) {
	v := s.notes.View()
	if v.Key != key {
		return
	}
	s.publish(bus.EventAnnotationsLoaded, v)
}

func isValidation(err error) bool {
	return errors.Is(err, annotations.ErrNoSelection) ||
		errors.Is(err, annotations.ErrBlankContent) ||
		errors.Is(err, annotations.ErrBlankTag) ||
		errors.Is(err, annotations.ErrBlankNoteID) ||
		errors.Is(err, annotations.ErrInvalidAnnotation)
}

// -- Pivots --

// Pivot expands the graph from the selected entity.
func (s *Session) Pivot(ctx context.Context, kind schemas.PivotKind, depth int) (pivot.Outcome, error) {
	if s.closed.Load() {
		return pivot.Outcome{}, ErrSessionClosed
	}
	ent, _, ok := s.sel.get()
	if !ok {
		return pivot.Outcome{}, annotations.ErrNoSelection
	}
	return s.pivotFrom(ctx, ent, kind, depth)
}

// PivotFrom expands the graph from the node with the given id.
func (s *Session) PivotFrom(ctx context.Context, id string, kind schemas.PivotKind, depth int) (pivot.Outcome, error) {
	if s.closed.Load() {
		return pivot.Outcome{}, ErrSessionClosed
	}
	n, ok := s.graph.Node(id)
	if !ok {
		return pivot.Outcome{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return s.pivotFrom(ctx, n, kind, depth)
}

func (s *Session) pivotFrom(ctx context.Context, source schemas.Entity, kind schemas.PivotKind, depth int) (pivot.Outcome, error) {
	if s.closed.Load() {
		return pivot.Outcome{}, ErrSessionClosed
	}
	out, err := s.pivots.Pivot(ctx, source, kind, depth)
	switch {
	case errors.Is(err, pivot.ErrClosed):
		return out, ErrSessionClosed
	case errors.Is(err, pivot.ErrInvalidPivot):
		return out, err
	case err != nil:
		s.transient("pivot", "pivot request failed, graph unchanged", err)
		return out, err
	}
	return out, nil
}

// -- Cases --

// ListCases returns the investigation cases known to the backend.
func (s *Session) ListCases(ctx context.Context) ([]schemas.Case, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.client.ListCases(ctx)
}

// AttachSelection links the selected entity to a case. Only email, domain and
// IP entities can be attached; anything else is rejected without a request.
func (s *Session) AttachSelection(ctx context.Context, caseID string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	ent, key, ok := s.sel.get()
	if !ok {
		return annotations.ErrNoSelection
	}
	if !schemas.Attachable(ent.Kind) {
		return fmt.Errorf("%w: %s", ErrNotAttachable, ent.Kind)
	}
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return fmt.Errorf("%w: case id", backend.ErrMissingArgument)
	}
	if err := s.client.AttachEntity(ctx, caseID, ent.Ref(key.Key)); err != nil {
		s.logger.Warn("Failed to attach entity to case",
			zap.String("case_id", caseID), zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to attach %s to case '%s': %w", key, caseID, err)
	}
	s.logger.Info("Entity attached to case", zap.String("case_id", caseID), zap.Stringer("key", key))
	return nil
}

// -- Teardown --

// Close stops both loops, cancels pending reconciliations, shuts down the bus
// and empties every store. In-flight requests are cancelled. It is safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.pivots.Close()
		<-s.done
		s.unobserve()
		s.events.Shutdown()
		s.graph.Clear()
		s.notes.Clear()
		s.sel.clear()
		s.logger.Info("Workspace session closed", zap.Uint64("dropped_events", s.events.Dropped()))
	})
}

func (s *Session) publish(t bus.EventType, payload interface{}) {
	if err := s.events.Publish(t, payload); err != nil && !errors.Is(err, bus.ErrClosed) {
		s.logger.Debug("Failed to publish event", zap.String("type", string(t)), zap.Error(err))
	}
}

// transient surfaces a recovered failure to subscribers. The failing component
// has already logged it.
func (s *Session) transient(source, msg string, err error) {
	s.publish(bus.EventTransientError, &bus.TransientError{Source: source, Message: msg, Err: err})
}
