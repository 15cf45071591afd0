package schemas

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// -- Canonical Investigation Graph Data Model --

// EntityKind represents the specific type of an entity (node) in the investigation graph.
// On the wire it travels as the node's "label".
type EntityKind string

const (
	KindEmail        EntityKind = "Email"
	KindDomain       EntityKind = "Domain"
	KindIP           EntityKind = "IP"
	KindBreach       EntityKind = "Breach"
	KindPerson       EntityKind = "Person"
	KindOrganization EntityKind = "Organization"
	KindScanJob      EntityKind = "ScanJob"
)

// AllKinds lists every known entity kind in display order.
var AllKinds = []EntityKind{
	KindEmail, KindDomain, KindIP, KindBreach, KindPerson, KindOrganization, KindScanJob,
}

func (k EntityKind) String() string { return string(k) }

// Valid reports whether k is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// WireName is the lowercase form used in URL paths and annotation bodies (e.g. "ip", "domain").
func (k EntityKind) WireName() string { return strings.ToLower(string(k)) }

// ParseEntityKind resolves a kind case-insensitively, accepting both the label and wire forms.
func ParseEntityKind(s string) (EntityKind, error) {
	for _, known := range AllKinds {
		if strings.EqualFold(s, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind '%s'", s)
}

// Common relationship types emitted by the enrichment pipeline. The set is open;
// any string is accepted from the backend.
const (
	RelationshipExposedIn      = "EXPOSED_IN"
	RelationshipResolvesTo     = "RESOLVES_TO"
	RelationshipRegisteredTo   = "REGISTERED_TO"
	RelationshipRegisteredWith = "REGISTERED_WITH"
	RelationshipHasEmail       = "HAS_EMAIL"
	RelationshipHostedBy       = "HOSTED_BY"
	RelationshipScanned        = "SCANNED"
	RelationshipOwnedBy        = "OWNED_BY"
	RelationshipAssociatedWith = "ASSOCIATED_WITH"
	// RelationshipRelated is used when a pivot result does not name its relationship.
	RelationshipRelated        = "RELATED"
)

// Well-known property names.
const (
	PropAddress     = "address"
	PropName        = "name"
	PropRiskScore   = "risk_score"
	PropRiskLevel   = "risk_level"
	PropRiskReasons = "risk_reasons"
	// PropProvisional marks edges created by an optimistic pivot merge.
	PropProvisional = "provisional"
)

// Properties is the open, type-dependent attribute bag of an entity or relationship.
// Unknown fields are preserved as-is.
type Properties map[string]interface{}

// Has reports whether key is present with a non-null value.
func (p Properties) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns the value for key if it is a string.
func (p Properties) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Number returns the value for key as a float64 if it holds any numeric type
// or a finite numeric string.
func (p Properties) Number(key string) (float64, bool) {
	return toFloat(p[key])
}

// Bool returns the value for key if it is a boolean or a textual boolean.
func (p Properties) Bool(key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

// Strings returns the string elements of a list value, skipping non-string items.
func (p Properties) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a deep copy of the bag. Nested maps and lists are copied too.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case Properties:
		return val.Clone()
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	case []string:
		s := make([]string, len(val))
		copy(s, val)
		return s
	default:
		return val
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Entity represents a single investigated object in the graph.
type Entity struct {
	ID         string     `json:"id"`
	Kind       EntityKind `json:"label"`
	Properties Properties `json:"properties"`
}

// Clone returns a copy of the entity that shares no mutable state with the receiver.
func (e Entity) Clone() Entity {
	e.Properties = e.Properties.Clone()
	return e
}

// Caption is the short text used to label the entity: address, else name, else its kind.
func (e Entity) Caption() string {
	if s, ok := e.Properties.String(PropAddress); ok && s != "" {
		return s
	}
	if s, ok := e.Properties.String(PropName); ok && s != "" {
		return s
	}
	return string(e.Kind)
}

// Ref returns the lightweight reference used when attaching the entity to a case.
func (e Entity) Ref(key string) EntityRef {
	return EntityRef{EntityID: key, EntityType: e.Kind.WireName()}
}

// Relationship is a typed, directed link between two entities.
type Relationship struct {
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Type       string     `json:"type"`
	Properties Properties `json:"properties,omitempty"`
}

// EdgeKey identifies a relationship. Two relationships with the same key are the same edge.
type EdgeKey struct {
	Source string
	Target string
	Type   string
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%s-[%s]->%s", k.Source, k.Type, k.Target)
}

// Key returns the identity of the relationship.
func (r Relationship) Key() EdgeKey {
	return EdgeKey{Source: r.Source, Target: r.Target, Type: r.Type}
}

// Clone returns a copy of the relationship that shares no mutable state with the receiver.
func (r Relationship) Clone() Relationship {
	r.Properties = r.Properties.Clone()
	return r
}

// Snapshot is the full, authoritative node and edge set for a job at a point in time.
type Snapshot struct {
	Nodes []Entity       `json:"nodes"`
	Edges []Relationship `json:"edges"`
}
