package workspace

import (
	"reflect"
	"sync"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
	"github.com/htrap1211/GraphX-OSINT/internal/knowledgegraph"
)

// selection tracks the single inspected entity. A copy of the entity is kept so
// the selection survives the node being replaced.
type selection struct {
	mu     sync.Mutex
	entity *schemas.Entity
	key    identity.Qualified
}

func (s *selection) get() (schemas.Entity, identity.Qualified, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entity == nil {
		return schemas.Entity{}, identity.Qualified{}, false
	}
	return s.entity.Clone(), s.key, true
}

func (s *selection) set(e schemas.Entity) identity.Qualified {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := e.Clone()
	s.entity = &c
	s.key = identity.Qualify(e)
	return s.key
}

func (s *selection) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entity = nil
	s.key = identity.Qualified{}
}

// selectionPlan is the outcome of reconciling the selection against a new snapshot.
type selectionPlan struct {
	reason     SelectionReason // empty when nothing changed
	entity     schemas.Entity
	key        identity.Qualified
	keyChanged bool
	changed    bool // false when a refresh found the entity identical
}

// reconcile applies the post-replace rules to the selection:
//   - the selected id is still present: refresh the entity in place;
//   - otherwise an entity with the same qualified key exists: rebind to it;
//   - otherwise: clear.
func (s *selection) reconcile(g *knowledgegraph.Graph) selectionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entity == nil {
		return selectionPlan{}
	}
	prevKey := s.key

	if n, ok := g.Node(s.entity.ID); ok {
		changed := !reflect.DeepEqual(*s.entity, n)
		s.entity = &n
		s.key = identity.Qualify(n)
		return selectionPlan{
			reason:     SelectionRefreshed,
			entity:     n.Clone(),
			key:        s.key,
			keyChanged: s.key != prevKey,
			changed:    changed,
		}
	}
	if n, ok := g.FindByKey(prevKey); ok {
		s.entity = &n
		return selectionPlan{reason: SelectionRebound, entity: n.Clone(), key: prevKey, changed: true}
	}
	s.entity = nil
	s.key = identity.Qualified{}
	return selectionPlan{reason: SelectionCleared, key: prevKey, changed: true}
}
