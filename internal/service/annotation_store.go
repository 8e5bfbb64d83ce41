package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"

	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
)

const persistTimeout = 15 * time.Second

// StoreScope identifies whose annotations on which document a store holds.
type StoreScope struct {
	UserID      string
	DocumentRef string
	Token       string
}

// SummaryEntry is one logical annotation in the sidebar index.
type SummaryEntry struct {
	ID        string                `json:"id"`
	LocalKey  string                `json:"local_key"`
	Page      int                   `json:"page"`
	Kind      domain.AnnotationKind `json:"kind"`
	Text      string                `json:"text,omitempty"`
	Color     string                `json:"color"`
	Y         float64               `json:"y"`
	Fragments int                   `json:"fragments"`
}

// AnnotationStore is the authoritative in-memory annotation set of one open
// document. Persistence is fire-and-forget per record; a failed save keeps
// the record on screen.
type AnnotationStore struct {
	repo           domain.AnnotationRepository
	scope          StoreScope
	logger         domain.Logger
	onUnauthorized func(error)

	mu      sync.Mutex
	records []*domain.Annotation

	// saving holds local keys whose save is in flight; orphaned holds the
	// subset deleted before the save returned.
	saving   map[string]bool
	orphaned map[string]bool
	pending  sync.WaitGroup
}

// NewAnnotationStore creates a store. A nil repo keeps everything local.
func NewAnnotationStore(repo domain.AnnotationRepository, scope StoreScope, logger domain.Logger, onUnauthorized func(error)) *AnnotationStore {
	return &AnnotationStore{
		repo:           repo,
		scope:          scope,
		logger:         logger,
		onUnauthorized: onUnauthorized,
		saving:         make(map[string]bool),
		orphaned:       make(map[string]bool),
	}
}

// Load replaces the in-memory set with the persisted records.
func (s *AnnotationStore) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	loaded, err := s.repo.Load(ctx, s.scope.UserID, s.scope.DocumentRef, s.scope.Token)
	if err != nil {
		s.reportUnauthorized(err)
		return fmt.Errorf("load annotations: %w", err)
	}

	records := make([]*domain.Annotation, 0, len(loaded))
	for _, a := range loaded {
		if a == nil {
			continue
		}
		c := a.Clone()
		if c.LocalKey == "" {
			c.LocalKey = c.ID
		}
		records = append(records, c)
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	s.logger.Info("Annotations loaded", "document", s.scope.DocumentRef, "count", len(records))
	return nil
}

// Add appends a copy of a, assigning a tentative id when it has none, and
// starts persisting it. The returned copy carries the assigned ids.
func (s *AnnotationStore) Add(a *domain.Annotation) (*domain.Annotation, error) {
	if a == nil {
		return nil, &domain.ValidationError{Message: "annotation is required"}
	}
	rec := a.Clone()
	if rec.ID == "" {
		rec.ID = domain.TentativeIDPrefix + uuid.NewString()
	}
	if rec.LocalKey == "" {
		rec.LocalKey = rec.ID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.DocumentID = s.scope.DocumentRef
	rec.UserID = s.scope.UserID
	color, err := normalizeColor(rec.Color)
	if err != nil {
		return nil, err
	}
	rec.Color = color
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	out := rec.Clone()
	persist := s.repo != nil && rec.IsTentative()
	if persist {
		s.saving[rec.LocalKey] = true
		s.pending.Add(1)
	}
	s.mu.Unlock()

	if persist {
		go s.persist(out.Clone())
	}
	return out, nil
}

func (s *AnnotationStore) persist(rec *domain.Annotation) {
	defer s.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	saved, err := s.repo.Save(ctx, s.scope.UserID, s.scope.DocumentRef, rec, s.scope.Token)

	s.mu.Lock()
	delete(s.saving, rec.LocalKey)
	orphaned := s.orphaned[rec.LocalKey]
	delete(s.orphaned, rec.LocalKey)
	if err != nil {
		s.mu.Unlock()
		s.reportUnauthorized(err)
		s.logger.Error("Failed to persist annotation", apperrors.NewPersistenceError("save failed", err),
			"local_key", rec.LocalKey, "page", rec.Page, "kind", rec.Kind)
		return
	}
	if saved == nil || saved.ID == "" {
		s.mu.Unlock()
		s.logger.Warn("Persistence returned no identifier", "local_key", rec.LocalKey)
		return
	}
	if !orphaned {
		if cur := s.findLocked(rec.LocalKey); cur != nil {
			cur.ID = saved.ID
			if !saved.CreatedAt.IsZero() {
				cur.CreatedAt = saved.CreatedAt
			}
		}
	}
	s.mu.Unlock()

	if orphaned {
		s.logger.Debug("Deleting annotation removed during save", "id", saved.ID)
		s.pending.Add(1)
		go s.remoteDelete(saved.ID)
		return
	}
	s.logger.Debug("Annotation persisted", "id", saved.ID, "local_key", rec.LocalKey)
}

func (s *AnnotationStore) remoteDelete(id string) {
	defer s.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.repo.Delete(ctx, s.scope.UserID, id, s.scope.Token); err != nil {
		s.reportUnauthorized(err)
		s.logger.Error("Failed to delete annotation", apperrors.NewPersistenceError("delete failed", err), "id", id)
	}
}

// Delete removes the record identified by id (durable id or local key).
// Records with text remove every record on the same page with the same
// kind and text; others remove only themselves. It returns the removed
// records.
func (s *AnnotationStore) Delete(id string) ([]*domain.Annotation, error) {
	s.mu.Lock()
	target := s.findLocked(id)
	if target == nil {
		s.mu.Unlock()
		return nil, domain.ErrAnnotationNotFound
	}

	key, grouped := target.FragmentKey()
	kept := s.records[:0]
	var removed []*domain.Annotation
	for _, rec := range s.records {
		match := rec == target
		if grouped && !match {
			k, ok := rec.FragmentKey()
			match = ok && k == key
		}
		if match {
			removed = append(removed, rec)
		} else {
			kept = append(kept, rec)
		}
	}
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = nil
	}
	s.records = kept

	var remote []string
	for _, rec := range removed {
		switch {
		case s.saving[rec.LocalKey]:
			s.orphaned[rec.LocalKey] = true
		case !rec.IsTentative() && s.repo != nil:
			remote = append(remote, rec.ID)
		}
	}
	s.pending.Add(len(remote))
	s.mu.Unlock()

	for _, rid := range remote {
		go s.remoteDelete(rid)
	}
	s.logger.Debug("Annotations deleted", "target", id, "count", len(removed))
	return removed, nil
}

// Get returns a copy of the record with the given durable id or local key.
func (s *AnnotationStore) Get(id string) (*domain.Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findLocked(id)
	if rec == nil {
		return nil, false
	}
	return rec.Clone(), true
}

// ListForPage returns the records of page n in insertion order.
func (s *AnnotationStore) ListForPage(n int) []*domain.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Annotation
	for _, rec := range s.records {
		if rec.Page == n {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// All returns every record in insertion order.
func (s *AnnotationStore) All() []*domain.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Annotation, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Len returns the number of records.
func (s *AnnotationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ListSummary returns one entry per logical annotation ordered by page,
// then by vertical position. Fragments collapse under the same rule Delete
// uses.
func (s *AnnotationStore) ListSummary() []SummaryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]int)
	var out []SummaryEntry
	for _, rec := range s.records {
		y := rec.Bounds().Y
		if key, ok := rec.FragmentKey(); ok {
			if i, seen := index[key]; seen {
				out[i].Fragments++
				if y < out[i].Y {
					out[i].Y = y
				}
				continue
			}
			index[key] = len(out)
		}
		out = append(out, SummaryEntry{
			ID:        rec.ID,
			LocalKey:  rec.LocalKey,
			Page:      rec.Page,
			Kind:      rec.Kind,
			Text:      rec.Text,
			Color:     rec.Color,
			Y:         y,
			Fragments: 1,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// Digest renders the reading notes of every highlight and note, grouped
// under a header per page.
func (s *AnnotationStore) Digest(documentName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reading notes - %s\n", documentName)

	page := 0
	for _, e := range s.ListSummary() {
		if e.Text == "" || (e.Kind != domain.KindHighlight && e.Kind != domain.KindNote) {
			continue
		}
		if e.Page != page {
			page = e.Page
			fmt.Fprintf(&b, "\nPage %d\n", page)
		}
		if e.Kind == domain.KindNote {
			fmt.Fprintf(&b, "- Note: %s\n", e.Text)
		} else {
			fmt.Fprintf(&b, "- %s\n", e.Text)
		}
	}
	return b.String()
}

// Wait blocks until in-flight persistence calls finish.
func (s *AnnotationStore) Wait() {
	s.pending.Wait()
}

func (s *AnnotationStore) findLocked(id string) *domain.Annotation {
	for _, rec := range s.records {
		if rec.ID == id || rec.LocalKey == id {
			return rec
		}
	}
	return nil
}

func (s *AnnotationStore) reportUnauthorized(err error) {
	if s.onUnauthorized != nil && (errors.Is(err, domain.ErrUnauthorized) || apperrors.IsType(err, apperrors.ErrorTypeUnauthorized)) {
		s.onUnauthorized(err)
	}
}

// normalizeColor canonicalizes a CSS hex color to #rrggbb.
func normalizeColor(c string) (string, error) {
	if c == "" {
		return DefaultHighlightColor, nil
	}
	parsed, err := colorful.Hex(c)
	if err != nil {
		return "", &domain.ValidationError{Field: "color", Message: fmt.Sprintf("invalid color %q", c)}
	}
	return parsed.Hex(), nil
}

// DigestFileName names the digest attachment after the document.
func DigestFileName(documentName string) string {
	base := documentName
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" {
		base = "document"
	}
	return base + "-notes.txt"
}
