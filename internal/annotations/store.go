// Package annotations holds the notes and tag set of the currently selected entity.
//
// Annotations are addressed by qualified canonical key and live independently of
// the graph: snapshot replacements and pivots never touch them. Every mutation is
// followed by a full reload rather than a local edit.
package annotations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
)

// Client is the slice of the backend the store needs.
type Client interface {
	ListNotes(ctx context.Context, key identity.Qualified) ([]schemas.Note, error)
	CreateNote(ctx context.Context, req schemas.NoteCreate) (schemas.Note, error)
	DeleteNote(ctx context.Context, noteID string) error
	ListTags(ctx context.Context, key identity.Qualified) ([]string, error)
	AddTag(ctx context.Context, req schemas.Tag) error
	RemoveTag(ctx context.Context, req schemas.Tag) error
	PredefinedTags(ctx context.Context) ([]string, error)
}

// View is a point-in-time copy of the store's contents.
type View struct {
	Key   identity.Qualified
	Notes []schemas.Note
	Tags  []string
}

// Store caches annotations for one qualified key at a time.
type Store struct {
	client Client
	log    *zap.Logger

	mu    sync.RWMutex
	key   identity.Qualified
	notes []schemas.Note
	tags  []string
}

// NewStore creates an empty store bound to a backend client.
func NewStore(client Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		log:    logger.Named("AnnotationStore"),
	}
}

// Key returns the qualified key currently loaded, or the zero value.
func (s *Store) Key() identity.Qualified {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// View returns a copy of the loaded annotations.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{Key: s.key, Notes: make([]schemas.Note, len(s.notes)), Tags: make([]string, len(s.tags))}
	copy(v.Notes, s.notes)
	copy(v.Tags, s.tags)
	return v
}

// HasTag reports whether the loaded tag set contains tag.
func (s *Store) HasTag(tag string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clear drops the current key and both collections.
func (s *Store) Clear() {
	s.mu.Lock()
	s.key = identity.Qualified{}
	s.notes = nil
	s.tags = nil
	s.mu.Unlock()
}

// Load switches the store to key and fetches its notes and tags. Previous
// annotations are cleared before the fetch so they are never shown under the new
// key. Partial results are applied when only one of the two requests fails.
func (s *Store) Load(ctx context.Context, key identity.Qualified) error {
	if key.IsZero() {
		s.Clear()
		return nil
	}
	s.mu.Lock()
	if s.key != key {
		s.key = key
		s.notes = nil
		s.tags = nil
	}
	s.mu.Unlock()
	return s.reload(ctx, key)
}

// Reload refetches annotations for the current key.
func (s *Store) Reload(ctx context.Context) error {
	key := s.Key()
	if key.IsZero() {
		return ErrNoSelection
	}
	return s.reload(ctx, key)
}

func (s *Store) reload(ctx context.Context, key identity.Qualified) error {
	var (
		notes            []schemas.Note
		tags             []string
		notesErr, tagErr error
		g                errgroup.Group
	)
	g.Go(func() error {
		notes, notesErr = s.client.ListNotes(ctx, key)
		return notesErr
	})
	g.Go(func() error {
		tags, tagErr = s.client.ListTags(ctx, key)
		return tagErr
	})
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != key {
		// Selection moved on while the request was in flight.
		s.log.Debug("Discarding annotations for stale key", zap.Stringer("key", key))
		return nil
	}
	if notesErr == nil {
		s.notes = filterNotes(notes, key)
	}
	if tagErr == nil {
		s.tags = normalizeTags(tags)
	}
	if err != nil {
		s.log.Warn("Failed to load annotations", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("failed to load annotations for %s: %w", key, err)
	}
	return nil
}

// AddNote creates a note for the current key and reloads.
func (s *Store) AddNote(ctx context.Context, content string) error {
	key := s.Key()
	if key.IsZero() {
		return ErrNoSelection
	}
	req := schemas.NoteCreate{EntityKey: key.Key, EntityType: key.WireType(), Content: content}
	if err := validateNote(req); err != nil {
		return err
	}
	if _, err := s.client.CreateNote(ctx, req); err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return s.reload(ctx, key)
}

// DeleteNote removes a note by id and reloads.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	key := s.Key()
	if key.IsZero() {
		return ErrNoSelection
	}
	if strings.TrimSpace(noteID) == "" {
		return ErrBlankNoteID
	}
	if err := s.client.DeleteNote(ctx, noteID); err != nil {
		return fmt.Errorf("failed to delete note '%s': %w", noteID, err)
	}
	return s.reload(ctx, key)
}

// AddTag adds tag to the current key's set and reloads. Adding a tag that is
// already present leaves the set unchanged.
func (s *Store) AddTag(ctx context.Context, tag string) error {
	key := s.Key()
	if key.IsZero() {
		return ErrNoSelection
	}
	req := schemas.Tag{EntityKey: key.Key, EntityType: key.WireType(), Tag: strings.TrimSpace(tag)}
	if err := validateTag(req); err != nil {
		return err
	}
	if err := s.client.AddTag(ctx, req); err != nil {
		return fmt.Errorf("failed to add tag '%s': %w", req.Tag, err)
	}
	return s.reload(ctx, key)
}

// RemoveTag removes tag from the current key's set and reloads. Removing an
// absent tag is not an error.
func (s *Store) RemoveTag(ctx context.Context, tag string) error {
	key := s.Key()
	if key.IsZero() {
		return ErrNoSelection
	}
	req := schemas.Tag{EntityKey: key.Key, EntityType: key.WireType(), Tag: strings.TrimSpace(tag)}
	if err := validateTag(req); err != nil {
		return err
	}
	if err := s.client.RemoveTag(ctx, req); err != nil {
		return fmt.Errorf("failed to remove tag '%s': %w", req.Tag, err)
	}
	return s.reload(ctx, key)
}

// PredefinedTags returns the backend's tag vocabulary, falling back to the built-in list.
func (s *Store) PredefinedTags(ctx context.Context) []string {
	tags, err := s.client.PredefinedTags(ctx)
	if err != nil || len(tags) == 0 {
		if err != nil {
			s.log.Debug("Using built-in tag vocabulary", zap.Error(err))
		}
		out := make([]string, len(schemas.PredefinedTags))
		copy(out, schemas.PredefinedTags)
		return out
	}
	return normalizeTags(tags)
}

// filterNotes drops notes the backend attributed to a different entity type.
// Notes without a type are kept.
func filterNotes(notes []schemas.Note, key identity.Qualified) []schemas.Note {
	out := make([]schemas.Note, 0, len(notes))
	for _, n := range notes {
		if n.EntityType != "" && !strings.EqualFold(n.EntityType, key.WireType()) {
			continue
		}
		if n.EntityKey == "" {
			n.EntityKey = key.Key
		}
		if n.EntityType == "" {
			n.EntityType = key.WireType()
		}
		out = append(out, n)
	}
	return out
}

// normalizeTags returns the sorted set of non-blank, trimmed tags.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
