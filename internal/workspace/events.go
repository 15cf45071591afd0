package workspace

import (
	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
	"github.com/htrap1211/GraphX-OSINT/internal/knowledgegraph"
)

// JobUpdate is the payload of bus.EventJobUpdated.
type JobUpdate struct {
	Job      schemas.Job
	Previous schemas.JobStatus // empty on the first successful fetch
}

// GraphUpdate is the payload of bus.EventSnapshotReplaced and bus.EventMergeApplied.
type GraphUpdate struct {
	Change knowledgegraph.Change
	Stats  knowledgegraph.Stats
}

// SelectionReason says why the selection changed.
type SelectionReason string

const (
	SelectionSelected  SelectionReason = "selected"
	SelectionRefreshed SelectionReason = "refreshed" // same id, entity updated by a snapshot
	SelectionRebound   SelectionReason = "rebound"   // id gone, same qualified key found under another id
	SelectionCleared   SelectionReason = "cleared"
)

// SelectionUpdate is the payload of bus.EventSelectionChanged. Entity is nil
// when the selection was cleared.
type SelectionUpdate struct {
	Entity *schemas.Entity
	Key    identity.Qualified
	Reason SelectionReason
}
