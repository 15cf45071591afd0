package schemas

// Annotation limits enforced by the backend.
const (
	MaxNoteLength = 5000
	MaxTagLength  = 50
)

// PredefinedTags is the built-in tag vocabulary offered when the backend list is unavailable.
var PredefinedTags = []string{
	"malicious",
	"suspicious",
	"benign",
	"to_review",
	"infrastructure",
	"phishing",
	"malware",
	"c2",
	"botnet",
	"legitimate",
	"false_positive",
}

// Note is a free-text annotation attached to a canonical entity key.
type Note struct {
	ID         string    `json:"id"`
	EntityKey  string    `json:"entity_id,omitempty"`
	EntityType string    `json:"entity_type,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  Timestamp `json:"created_at"`
}

// NoteCreate is the body of a note creation request.
type NoteCreate struct {
	EntityKey  string `json:"entity_id" validate:"required"`
	EntityType string `json:"entity_type" validate:"required"`
	Content    string `json:"content" validate:"required,min=1,max=5000"`
}

// Tag is one label in an entity's tag set. Tags have set semantics per (key, type).
type Tag struct {
	EntityKey  string `json:"entity_id" validate:"required"`
	EntityType string `json:"entity_type" validate:"required"`
	Tag        string `json:"tag" validate:"required,min=1,max=50"`
}

// CaseStatus is the workflow state of an investigation case.
type CaseStatus string

const (
	CaseOpen       CaseStatus = "open"
	CaseInProgress CaseStatus = "in_progress"
	CaseClosed     CaseStatus = "closed"
	CaseArchived   CaseStatus = "archived"
)

// CasePriority ranks a case.
type CasePriority string

const (
	PriorityLow      CasePriority = "low"
	PriorityMedium   CasePriority = "medium"
	PriorityHigh     CasePriority = "high"
	PriorityCritical CasePriority = "critical"
)

// Case is owned by the external case collaborator. The engine lists cases and
// attaches entity references to them.
type Case struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      CaseStatus   `json:"status"`
	Priority    CasePriority `json:"priority,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	CreatedAt   Timestamp    `json:"created_at,omitempty"`
	UpdatedAt   Timestamp    `json:"updated_at,omitempty"`
	EntityCount int          `json:"entity_count"`
	JobCount    int          `json:"job_count"`
}

// EntityRef points a case at an entity by canonical key and wire type.
type EntityRef struct {
	EntityID   string `json:"entity_id" validate:"required"`
	EntityType string `json:"entity_type" validate:"required,oneof=email domain ip"`
}

// Attachable reports whether entities of kind k can be attached to a case.
func Attachable(k EntityKind) bool {
	switch k {
	case KindEmail, KindDomain, KindIP:
		return true
	}
	return false
}
