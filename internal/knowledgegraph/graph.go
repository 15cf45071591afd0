// Package knowledgegraph holds the workspace's deduplicated view of the
// investigation graph.
package knowledgegraph

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
)

// ChangeKind distinguishes the two mutation paths of the graph.
type ChangeKind string

const (
	ChangeReplaced ChangeKind = "replaced"
	ChangeMerged   ChangeKind = "merged"
	ChangeCleared  ChangeKind = "cleared"
)

// Change describes one applied mutation. It is delivered to observers after the
// graph lock has been released.
type Change struct {
	Kind       ChangeKind
	Revision   uint64
	AddedNodes []string
	AddedEdges []schemas.EdgeKey
	SkippedIDs []string // merge inputs dropped because the id already existed
	NodeCount  int
	EdgeCount  int
}

// Observer receives change notifications.
type Observer func(Change)

// Graph is an in-memory node/edge set keyed by node id and edge identity.
// Both mutation paths are idempotent: replacing with the same snapshot twice, or
// merging the same batch twice, leaves the graph as it was after the first call.
type Graph struct {
	nodes    map[string]schemas.Entity
	edges    map[schemas.EdgeKey]schemas.Relationship
	incident map[string][]schemas.EdgeKey // Key: node ID, Value: keys of edges touching it
	revision uint64
	mu       sync.RWMutex

	observers   map[int]Observer
	nextObsID   int
	observersMu sync.Mutex

	log *zap.Logger
}

// NewGraph creates a new, empty graph.
func NewGraph(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodes:     make(map[string]schemas.Entity),
		edges:     make(map[schemas.EdgeKey]schemas.Relationship),
		incident:  make(map[string][]schemas.EdgeKey),
		observers: make(map[int]Observer),
		log:       logger.Named("Graph"),
	}
}

// Observe registers fn for change notifications and returns a function that removes it.
func (g *Graph) Observe(fn Observer) func() {
	g.observersMu.Lock()
	defer g.observersMu.Unlock()
	id := g.nextObsID
	g.nextObsID++
	g.observers[id] = fn
	return func() {
		g.observersMu.Lock()
		delete(g.observers, id)
		g.observersMu.Unlock()
	}
}

func (g *Graph) notify(c Change) {
	g.observersMu.Lock()
	ids := make([]int, 0, len(g.observers))
	for id := range g.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Observer, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, g.observers[id])
	}
	g.observersMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// ReplaceSnapshot atomically swaps the whole graph for the given snapshot. When an
// id appears more than once in the payload the first occurrence is kept, and the
// same rule applies to edges.
func (g *Graph) ReplaceSnapshot(snap schemas.Snapshot) Change {
	nodes := make(map[string]schemas.Entity, len(snap.Nodes))
	duplicates := 0
	for _, n := range snap.Nodes {
		if _, dup := nodes[n.ID]; dup {
			duplicates++
			continue
		}
		nodes[n.ID] = n.Clone()
	}
	edges := make(map[schemas.EdgeKey]schemas.Relationship, len(snap.Edges))
	for _, e := range snap.Edges {
		if _, dup := edges[e.Key()]; dup {
			continue
		}
		edges[e.Key()] = e.Clone()
	}

	g.mu.Lock()
	g.nodes = nodes
	g.edges = edges
	g.rebuildIncident()
	g.revision++
	change := Change{
		Kind:      ChangeReplaced,
		Revision:  g.revision,
		NodeCount: len(g.nodes),
		EdgeCount: len(g.edges),
	}
	g.mu.Unlock()

	if duplicates > 0 {
		g.log.Debug("Snapshot contained duplicate node ids", zap.Int("duplicates", duplicates))
	}
	g.log.Debug("Snapshot replaced", zap.Int("nodes", change.NodeCount), zap.Int("edges", change.EdgeCount), zap.Uint64("revision", change.Revision))
	g.notify(change)
	return change
}

// MergeAdditive unions nodes and edges into the graph. Existing nodes and edges are
// never overwritten; their ids are reported in Change.SkippedIDs. Edges may reference
// nodes that are not (yet) present.
func (g *Graph) MergeAdditive(nodes []schemas.Entity, edges []schemas.Relationship) Change {
	g.mu.Lock()
	change := Change{Kind: ChangeMerged}
	for _, n := range nodes {
		if _, exists := g.nodes[n.ID]; exists {
			change.SkippedIDs = append(change.SkippedIDs, n.ID)
			continue
		}
		g.nodes[n.ID] = n.Clone()
		change.AddedNodes = append(change.AddedNodes, n.ID)
	}
	for _, e := range edges {
		key := e.Key()
		if _, exists := g.edges[key]; exists {
			continue
		}
		g.edges[key] = e.Clone()
		g.addIncident(key)
		change.AddedEdges = append(change.AddedEdges, key)
	}
	if len(change.AddedNodes) > 0 || len(change.AddedEdges) > 0 {
		g.revision++
	}
	change.Revision = g.revision
	change.NodeCount = len(g.nodes)
	change.EdgeCount = len(g.edges)
	g.mu.Unlock()

	g.log.Debug("Additive merge applied",
		zap.Int("added_nodes", len(change.AddedNodes)),
		zap.Int("added_edges", len(change.AddedEdges)),
		zap.Int("skipped", len(change.SkippedIDs)))
	g.notify(change)
	return change
}

// Clear empties the graph. Used when the owning session ends.
func (g *Graph) Clear() {
	g.mu.Lock()
	g.nodes = make(map[string]schemas.Entity)
	g.edges = make(map[schemas.EdgeKey]schemas.Relationship)
	g.incident = make(map[string][]schemas.EdgeKey)
	g.revision++
	change := Change{Kind: ChangeCleared, Revision: g.revision}
	g.mu.Unlock()
	g.notify(change)
}

// rebuildIncident recomputes the adjacency index.
// Assumes the caller holds the write lock.
func (g *Graph) rebuildIncident() {
	g.incident = make(map[string][]schemas.EdgeKey, len(g.nodes))
	for key := range g.edges {
		g.addIncident(key)
	}
}

// addIncident indexes an edge under both endpoints.
// Assumes the caller holds the write lock.
func (g *Graph) addIncident(key schemas.EdgeKey) {
	g.incident[key.Source] = append(g.incident[key.Source], key)
	if key.Target != key.Source {
		g.incident[key.Target] = append(g.incident[key.Target], key)
	}
}

// Node retrieves a copy of a node by id.
func (g *Graph) Node(id string) (schemas.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return schemas.Entity{}, false
	}
	return n.Clone(), true
}

// Has reports whether a node with the given id is present.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// FindByKey returns a node whose qualified canonical key equals q. When several
// nodes match, the one with the smallest id is returned so the choice is stable.
func (g *Graph) FindByKey(q identity.Qualified) (schemas.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best schemas.Entity
	found := false
	for id, n := range g.nodes {
		if n.Kind != q.Kind || identity.Resolve(n) != q.Key {
			continue
		}
		if !found || id < best.ID {
			best = n
			found = true
		}
	}
	if !found {
		return schemas.Entity{}, false
	}
	return best.Clone(), true
}

// Relationships returns every edge touching the node, sorted by edge key.
func (g *Graph) Relationships(id string) []schemas.Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := g.incident[id]
	out := make([]schemas.Relationship, 0, len(keys))
	for _, key := range keys {
		e, ok := g.edges[key]
		if !ok {
			g.log.Warn("Inconsistency found: edge key in index but not in edges map", zap.Stringer("edge", key))
			continue
		}
		out = append(out, e.Clone())
	}
	sortEdges(out)
	return out
}

// Snapshot returns a deep copy of the graph, nodes sorted by id and edges by key.
func (g *Graph) Snapshot() schemas.Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := schemas.Snapshot{
		Nodes: make([]schemas.Entity, 0, len(g.nodes)),
		Edges: make([]schemas.Relationship, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		snap.Nodes = append(snap.Nodes, n.Clone())
	}
	for _, e := range g.edges {
		snap.Edges = append(snap.Edges, e.Clone())
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sortEdges(snap.Edges)
	return snap
}

// Len returns the node and edge counts.
func (g *Graph) Len() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// Revision increases every time the graph's contents change.
func (g *Graph) Revision() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.revision
}

// DanglingEdges lists edges with at least one endpoint missing from the graph.
func (g *Graph) DanglingEdges() []schemas.Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []schemas.Relationship
	for _, e := range g.edges {
		_, src := g.nodes[e.Source]
		_, dst := g.nodes[e.Target]
		if !src || !dst {
			out = append(out, e.Clone())
		}
	}
	sortEdges(out)
	return out
}

func sortEdges(edges []schemas.Relationship) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Type < b.Type
	})
}
