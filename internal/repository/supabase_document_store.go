package repository

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"pdf-annotator/internal/domain"

	storage_go "github.com/supabase-community/storage-go"
)

// DocumentStore implements domain.DocumentStore on a Supabase Storage
// bucket. Document ids are object paths inside the bucket.
type DocumentStore struct {
	supabaseClient domain.SupabaseClient
	bucket         string
	logger         domain.Logger
}

func NewDocumentStore(supabaseClient domain.SupabaseClient, bucket string, logger domain.Logger) *DocumentStore {
	return &DocumentStore{
		supabaseClient: supabaseClient,
		bucket:         bucket,
		logger:         logger,
	}
}

// Fetch downloads the object at ref.ID.
func (s *DocumentStore) Fetch(ctx context.Context, ref domain.DocumentRef, token string) ([]byte, error) {
	client, err := s.supabaseClient.GetClientWithToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to get client with token: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("supabase client not initialized: %w", domain.ErrTransport)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := client.Storage.DownloadFile(s.bucket, objectPath(ref.ID))
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", ref.ID, classify(res.err))
		}
		if len(res.data) == 0 {
			return nil, fmt.Errorf("document %s is empty: %w", ref.ID, domain.ErrDocumentNotFound)
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Upload writes data to parentRef/name, replacing an existing object, and
// returns the object path.
func (s *DocumentStore) Upload(ctx context.Context, data []byte, name string, parentRef string, token string) (string, error) {
	client, err := s.supabaseClient.GetClientWithToken(token)
	if err != nil {
		return "", fmt.Errorf("failed to get client with token: %w", err)
	}
	if client == nil {
		return "", fmt.Errorf("supabase client not initialized: %w", domain.ErrTransport)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := objectPath(path.Join(parentRef, name))
	contentType := "application/pdf"
	upsert := true
	if _, err := client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, classify(err))
	}
	s.logger.Info("Document uploaded", "bucket", s.bucket, "path", key, "bytes", len(data))
	return key, nil
}

// Delete removes the object at id.
func (s *DocumentStore) Delete(ctx context.Context, id string, token string) error {
	client, err := s.supabaseClient.GetClientWithToken(token)
	if err != nil {
		return fmt.Errorf("failed to get client with token: %w", err)
	}
	if client == nil {
		return fmt.Errorf("supabase client not initialized: %w", domain.ErrTransport)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := client.Storage.RemoveFile(s.bucket, []string{objectPath(id)}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, classify(err))
	}
	s.logger.Info("Document deleted", "bucket", s.bucket, "path", id)
	return nil
}

func objectPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
