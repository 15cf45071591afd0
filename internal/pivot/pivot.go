// Package pivot expands the graph from a single entity: it validates the
// request, asks the backend, merges the answer optimistically and schedules a
// confirmatory snapshot fetch that reconciles the provisional state.
package pivot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/config"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
	"github.com/htrap1211/GraphX-OSINT/internal/knowledgegraph"
)

var (
	// ErrInvalidPivot is returned before any request when the target or kind is unusable.
	ErrInvalidPivot = errors.New("invalid pivot")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("pivot controller is closed")
)

// Client is the slice of the backend the controller needs.
type Client interface {
	Pivot(ctx context.Context, req schemas.PivotRequest) (schemas.PivotResult, error)
}

// Recorder receives pivot telemetry. *metrics.Registry implements it.
type Recorder interface {
	RecordPivot(pivotType string, err error, merged int)
	ReconcileScheduled()
	ReconcileDone()
}

// Outcome reports what a pivot did to the graph.
type Outcome struct {
	Request  schemas.PivotRequest
	Result   schemas.PivotResult
	Change   knowledgegraph.Change
	Filtered []string // returned ids that were already in the graph
	// Reconciling is true when a confirmatory snapshot fetch was scheduled.
	Reconciling bool
}

// Controller issues pivots against one graph.
type Controller struct {
	client    Client
	graph     *knowledgegraph.Graph
	reconcile func()
	recorder  Recorder
	logger    *zap.Logger

	delay        time.Duration
	defaultDepth int
	maxDepth     int

	mu     sync.Mutex
	timers map[uint64]*time.Timer
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

// NewController wires a controller. reconcile is invoked once per successful
// non-empty pivot, after the configured delay, to fetch the authoritative snapshot.
func NewController(client Client, graph *knowledgegraph.Graph, reconcile func(), cfg config.PivotConfig, recorder Recorder, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reconcile == nil {
		reconcile = func() {}
	}
	maxDepth := cfg.MaxDepth
	if maxDepth < schemas.MinPivotDepth || maxDepth > schemas.MaxPivotDepth {
		maxDepth = schemas.MaxPivotDepth
	}
	defaultDepth := cfg.DefaultDepth
	if defaultDepth < schemas.MinPivotDepth || defaultDepth > maxDepth {
		defaultDepth = schemas.MinPivotDepth
	}
	return &Controller{
		client:       client,
		graph:        graph,
		reconcile:    reconcile,
		recorder:     recorder,
		logger:       logger.Named("PivotController"),
		delay:        cfg.ReconcileDelay,
		defaultDepth: defaultDepth,
		maxDepth:     maxDepth,
		timers:       make(map[uint64]*time.Timer),
	}
}

// Pivot expands the graph from source. A zero depth uses the configured default;
// any other value is clamped to the supported range.
func (c *Controller) Pivot(ctx context.Context, source schemas.Entity, kind schemas.PivotKind, depth int) (Outcome, error) {
	if c.isClosed() {
		return Outcome{}, ErrClosed
	}
	req, err := c.buildRequest(source, kind, depth)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Request: req}
	logger := c.logger.With(
		zap.String("entity_key", req.EntityKey),
		zap.String("entity_type", req.EntityType.WireName()),
		zap.String("pivot_kind", string(kind)))

	res, err := c.client.Pivot(ctx, req)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		c.record(kind, err, 0)
		logger.Warn("Pivot failed", zap.Error(err))
		return out, fmt.Errorf("pivot %s from %s failed: %w", kind, identity.Qualified{Key: req.EntityKey, Kind: req.EntityType}, err)
	}
	out.Result = res

	nodes, edges, filtered := c.provisional(source, res.Entities)
	out.Filtered = filtered
	change, ok := c.mergeIfOpen(nodes, edges)
	if !ok {
		// A result arriving after teardown must not touch the graph.
		return out, ErrClosed
	}
	out.Change = change
	c.record(kind, nil, len(out.Change.AddedNodes))

	if len(res.Entities) > 0 {
		out.Reconciling = c.scheduleReconcile()
	}
	logger.Info("Pivot applied",
		zap.Int("returned", len(res.Entities)),
		zap.Int("merged", len(out.Change.AddedNodes)),
		zap.Int("filtered", len(filtered)))
	return out, nil
}

func (c *Controller) buildRequest(source schemas.Entity, kind schemas.PivotKind, depth int) (schemas.PivotRequest, error) {
	if source.ID == "" {
		return schemas.PivotRequest{}, fmt.Errorf("%w: missing pivot target", ErrInvalidPivot)
	}
	if !kind.ValidFor(source.Kind) {
		return schemas.PivotRequest{}, fmt.Errorf("%w: %s is not available for %s entities", ErrInvalidPivot, kind, source.Kind)
	}
	if depth == 0 {
		depth = c.defaultDepth
	}
	depth = schemas.ClampDepth(depth)
	if depth > c.maxDepth {
		depth = c.maxDepth
	}
	return schemas.PivotRequest{
		EntityType: source.Kind,
		EntityKey:  identity.Resolve(source),
		Kind:       kind,
		Depth:      depth,
	}, nil
}

// provisional maps pivot entities to graph nodes and a provisional edge from the
// source to each new node. Entities already in the graph, repeated within the
// result, or without an id are filtered out.
func (c *Controller) provisional(source schemas.Entity, entities []schemas.PivotEntity) ([]schemas.Entity, []schemas.Relationship, []string) {
	var (
		nodes    []schemas.Entity
		edges    []schemas.Relationship
		filtered []string
		seen     = make(map[string]struct{}, len(entities))
	)
	for _, pe := range entities {
		if pe.ID == "" {
			continue
		}
		if _, dup := seen[pe.ID]; dup {
			continue
		}
		seen[pe.ID] = struct{}{}
		if c.graph.Has(pe.ID) {
			filtered = append(filtered, pe.ID)
			continue
		}
		nodes = append(nodes, pe.Entity.Clone())
		if pe.ID == source.ID {
			continue
		}
		relType := pe.Relationship
		if relType == "" {
			relType = schemas.RelationshipRelated
		}
		edges = append(edges, schemas.Relationship{
			Source:     source.ID,
			Target:     pe.ID,
			Type:       relType,
			Properties: schemas.Properties{schemas.PropProvisional: true},
		})
	}
	return nodes, edges, filtered
}

func (c *Controller) scheduleReconcile() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	id := c.nextID
	c.nextID++
	c.wg.Add(1)
	c.timers[id] = time.AfterFunc(c.delay, func() {
		defer c.wg.Done()
		c.mu.Lock()
		if _, ok := c.timers[id]; !ok || c.closed {
			c.mu.Unlock()
			return
		}
		delete(c.timers, id)
		c.mu.Unlock()

		c.logger.Debug("Reconciling optimistic pivot state")
		c.reconcile()
		if c.recorder != nil {
			c.recorder.ReconcileDone()
		}
	})
	if c.recorder != nil {
		c.recorder.ReconcileScheduled()
	}
	return true
}

// Pending returns the number of scheduled reconciliations that have not fired.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Close cancels every pending reconciliation and waits for any that already
// started. No reconcile call happens after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, t := range c.timers {
		if t.Stop() {
			c.wg.Done()
		}
		delete(c.timers, id)
		if c.recorder != nil {
			c.recorder.ReconcileDone()
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// mergeIfOpen applies the merge unless the controller is closed. Close blocks
// on the same lock, so no merge lands once teardown has begun.
func (c *Controller) mergeIfOpen(nodes []schemas.Entity, edges []schemas.Relationship) (knowledgegraph.Change, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return knowledgegraph.Change{}, false
	}
	return c.graph.MergeAdditive(nodes, edges), true
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) record(kind schemas.PivotKind, err error, merged int) {
	if c.recorder != nil {
		c.recorder.RecordPivot(string(kind), err, merged)
	}
}
