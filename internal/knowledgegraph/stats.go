package knowledgegraph

import (
	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/risk"
)

// Stats summarises the graph for status displays and metrics.
type Stats struct {
	Nodes    int                        `json:"nodes" yaml:"nodes"`
	Edges    int                        `json:"edges" yaml:"edges"`
	Dangling int                        `json:"dangling" yaml:"dangling"`
	ByKind   map[schemas.EntityKind]int `json:"by_kind" yaml:"by_kind"`
	ByLevel  map[risk.Level]int         `json:"by_level" yaml:"by_level"`
}

// Stats computes node counts per kind and risk tier, plus edge totals.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		Nodes:   len(g.nodes),
		Edges:   len(g.edges),
		ByKind:  make(map[schemas.EntityKind]int),
		ByLevel: make(map[risk.Level]int),
	}
	for _, n := range g.nodes {
		s.ByKind[n.Kind]++
		s.ByLevel[risk.Classify(n).Level]++
	}
	for _, e := range g.edges {
		_, src := g.nodes[e.Source]
		_, dst := g.nodes[e.Target]
		if !src || !dst {
			s.Dangling++
		}
	}
	return s
}
