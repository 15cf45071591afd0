package schemas

import "fmt"

// PivotKind names an expansion pattern from a single entity.
type PivotKind string

const (
	PivotRelatedDomains PivotKind = "related_domains"
	PivotRelatedIPs     PivotKind = "related_ips"
	PivotRelatedEmails  PivotKind = "related_emails"
	PivotHostedBySameIP PivotKind = "hosted_by_same_ip"
	PivotSameRegistrar  PivotKind = "same_registrar"
	PivotSameASN        PivotKind = "same_asn"
)

// Supported pivot depth range.
const (
	MinPivotDepth = 1
	MaxPivotDepth = 3
)

var universalPivots = []PivotKind{PivotRelatedDomains, PivotRelatedIPs, PivotRelatedEmails}

var kindPivots = map[EntityKind][]PivotKind{
	KindDomain: {PivotHostedBySameIP, PivotSameRegistrar},
	KindIP:     {PivotSameASN},
}

func (p PivotKind) String() string { return string(p) }

// AvailablePivots lists the pivot kinds valid for an entity of kind k.
func AvailablePivots(k EntityKind) []PivotKind {
	out := make([]PivotKind, 0, len(universalPivots)+len(kindPivots[k]))
	out = append(out, universalPivots...)
	return append(out, kindPivots[k]...)
}

// ValidFor reports whether the pivot can be issued from an entity of kind k.
func (p PivotKind) ValidFor(k EntityKind) bool {
	for _, allowed := range AvailablePivots(k) {
		if allowed == p {
			return true
		}
	}
	return false
}

// ClampDepth bounds a requested pivot depth to the supported range.
func ClampDepth(depth int) int {
	if depth < MinPivotDepth {
		return MinPivotDepth
	}
	if depth > MaxPivotDepth {
		return MaxPivotDepth
	}
	return depth
}

// PivotEntity is an entity discovered by a pivot, with the relationship that links it to the source.
type PivotEntity struct {
	Entity
	Relationship string `json:"relationship,omitempty"`
}

// PivotResult is the backend's answer to a pivot request.
type PivotResult struct {
	Success     bool          `json:"success"`
	PivotType   PivotKind     `json:"pivot_type,omitempty"`
	EntityCount int           `json:"entity_count"`
	Entities    []PivotEntity `json:"entities"`
	Message     string        `json:"message,omitempty"`
}

// Err converts an unsuccessful result into an error.
func (r PivotResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Message != "" {
		return fmt.Errorf("pivot %s unsuccessful: %s", r.PivotType, r.Message)
	}
	return fmt.Errorf("pivot %s unsuccessful", r.PivotType)
}

// PivotRequest addresses a pivot by the source entity's wire type and canonical key.
type PivotRequest struct {
	EntityType EntityKind
	EntityKey  string
	Kind       PivotKind
	Depth      int
}
