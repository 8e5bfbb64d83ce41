package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"pdf-annotator/internal/domain"

	"github.com/supabase-community/postgrest-go"
)

// AnnotationRepository implements domain.AnnotationRepository on a
// Supabase table. The geometry column is jsonb holding the record's
// geometry array.
type AnnotationRepository struct {
	supabaseClient domain.SupabaseClient
	table          string
	logger         domain.Logger
}

func NewAnnotationRepository(supabaseClient domain.SupabaseClient, table string, logger domain.Logger) *AnnotationRepository {
	return &AnnotationRepository{
		supabaseClient: supabaseClient,
		table:          table,
		logger:         logger,
	}
}

// Load returns the user's annotations on documentRef, oldest first.
func (r *AnnotationRepository) Load(ctx context.Context, userScope string, documentRef string, token string) ([]*domain.Annotation, error) {
	client, err := r.supabaseClient.GetClientWithToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to get client with token: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("supabase client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := client.From(r.table).
		Select("*", "", false).
		Eq("user_id", userScope).
		Eq("document_id", documentRef).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", classify(err))
	}

	var rows []*domain.Annotation
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	out := make([]*domain.Annotation, 0, len(rows))
	for _, a := range rows {
		if err := a.Validate(); err != nil {
			r.logger.Warn("Skipping malformed annotation row", "id", a.ID, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Save inserts a and returns the stored row with its durable id.
func (r *AnnotationRepository) Save(ctx context.Context, userScope string, documentRef string, a *domain.Annotation, token string) (*domain.Annotation, error) {
	client, err := r.supabaseClient.GetClientWithToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to get client with token: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("supabase client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := map[string]interface{}{
		"user_id":     userScope,
		"document_id": documentRef,
		"page":        a.Page,
		"kind":        string(a.Kind),
		"geometry":    a.GeometryArray(),
		"color":       a.Color,
		"opacity":     a.Opacity,
	}
	if a.Text != "" {
		row["text"] = sanitizeText(a.Text)
	}
	if a.Kind == domain.KindInk {
		row["stroke_width"] = a.StrokeWidth
	}
	if !a.CreatedAt.IsZero() {
		row["created_at"] = a.CreatedAt
	}

	// Request "representation" so PostgREST returns the inserted row.
	data, _, err := client.From(r.table).
		Insert(row, false, "", "representation", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to create annotation: %w", classify(err))
	}

	var rows []*domain.Annotation
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("failed to create annotation: empty response")
	}
	saved := rows[0]
	saved.LocalKey = a.LocalKey
	return saved, nil
}

// Delete removes one annotation owned by userScope.
func (r *AnnotationRepository) Delete(ctx context.Context, userScope string, annotationID string, token string) error {
	client, err := r.supabaseClient.GetClientWithToken(token)
	if err != nil {
		return fmt.Errorf("failed to get client with token: %w", err)
	}
	if client == nil {
		return fmt.Errorf("supabase client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err = client.From(r.table).
		Delete("", "").
		Eq("id", annotationID).
		Eq("user_id", userScope).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", classify(err))
	}
	return nil
}

var reControl = regexp.MustCompile(`[\x00]`)

// sanitizeText removes characters that PostgreSQL rejects in text fields (notably NUL bytes).
func sanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = reControl.ReplaceAllString(s, "")
	// Extracted text sometimes carries the escaped form too.
	return strings.ReplaceAll(s, "\\u0000", "")
}
