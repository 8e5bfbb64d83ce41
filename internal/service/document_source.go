package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"
)

var pdfMagic = []byte("%PDF-")

// DocumentSource obtains raw document bytes from an upload or from the
// remote store. It never decodes.
type DocumentSource struct {
	store   domain.DocumentStore
	maxSize int64
	timeout time.Duration
	logger  domain.Logger
}

// NewDocumentSource creates a source. store may be nil when only uploads
// are served.
func NewDocumentSource(store domain.DocumentStore, maxSize int64, timeout time.Duration, logger domain.Logger) *DocumentSource {
	return &DocumentSource{store: store, maxSize: maxSize, timeout: timeout, logger: logger}
}

// FromBytes wraps a locally supplied blob.
func (s *DocumentSource) FromBytes(name string, data []byte) (*domain.SourceDocument, error) {
	if err := s.check(name, data); err != nil {
		return nil, err
	}
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		name = ""
	}
	return &domain.SourceDocument{
		Ref:  domain.DocumentRef{Name: name},
		Data: data,
	}, nil
}

// FromReader reads a blob of at most the configured size.
func (s *DocumentSource) FromReader(name string, r io.Reader) (*domain.SourceDocument, error) {
	if s.maxSize > 0 {
		r = io.LimitReader(r, s.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.NewSourceUnavailableError("failed to read upload", err)
	}
	return s.FromBytes(name, data)
}

// FromRemote fetches bytes for ref. Stalls end at the fetch timeout and
// surface as SourceUnavailable.
func (s *DocumentSource) FromRemote(ctx context.Context, ref domain.DocumentRef, token string) (*domain.SourceDocument, error) {
	if s.store == nil {
		return nil, apperrors.NewSourceUnavailableError("remote documents are not configured", domain.ErrTransport)
	}
	if strings.TrimSpace(ref.ID) == "" {
		return nil, apperrors.NewValidationError("document_ref is required")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := s.store.Fetch(ctx, ref, token)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			return nil, apperrors.NewUnauthorizedError("not authorized to read document", err)
		case errors.Is(err, domain.ErrDocumentNotFound):
			return nil, apperrors.NewSourceUnavailableError("document not found", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, apperrors.NewSourceUnavailableError("document fetch timed out", err)
		}
		return nil, apperrors.NewSourceUnavailableError("failed to fetch document", err)
	}

	if ref.Name == "" {
		ref.Name = path.Base(ref.ID)
	}
	if err := s.check(ref.Name, data); err != nil {
		return nil, err
	}
	if ref.ParentRef == "" {
		if dir := path.Dir(ref.ID); dir != "." && dir != "/" {
			ref.ParentRef = dir
		}
	}
	s.logger.Info("Document fetched", "ref", ref.ID, "bytes", len(data), "elapsed", time.Since(start))
	return &domain.SourceDocument{Ref: ref, Data: data, Remote: true}, nil
}

func (s *DocumentSource) check(name string, data []byte) error {
	if len(data) == 0 {
		return apperrors.NewValidationError("document is empty")
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return apperrors.NewValidationError(domain.ErrFileTooLarge.Error(),
			fmt.Sprintf("%s exceeds %d bytes", name, s.maxSize))
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), pdfMagic) {
		return apperrors.NewValidationError(domain.ErrInvalidFile.Error(), "missing PDF header")
	}
	return nil
}
