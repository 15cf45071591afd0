// Package identity derives the canonical key used to address annotations, pivots,
// and case attachments for an entity.
//
// The key is address, else name, else the graph node id. It is not injective: two
// entities of different kinds may share an address or name string, so callers
// always pair the key with the entity's kind (see Qualified).
package identity

import (
	"github.com/htrap1211/GraphX-OSINT/api/schemas"
)

// Resolve returns the canonical entity key. Only non-empty string values of
// address and name are considered.
func Resolve(e schemas.Entity) string {
	if s, ok := e.Properties.String(schemas.PropAddress); ok && s != "" {
		return s
	}
	if s, ok := e.Properties.String(schemas.PropName); ok && s != "" {
		return s
	}
	return e.ID
}

// Qualified is a canonical key paired with the entity kind. Annotation lookups are
// always made with a Qualified key, never the bare string.
type Qualified struct {
	Key  string
	Kind schemas.EntityKind
}

// Qualify resolves the qualified key of an entity.
func Qualify(e schemas.Entity) Qualified {
	return Qualified{Key: Resolve(e), Kind: e.Kind}
}

// IsZero reports whether q addresses nothing.
func (q Qualified) IsZero() bool { return q.Key == "" && q.Kind == "" }

// WireType is the lowercase entity type sent alongside the key.
func (q Qualified) WireType() string { return q.Kind.WireName() }

func (q Qualified) String() string {
	return q.Kind.WireName() + ":" + q.Key
}
