// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"pdf-annotator/internal/domain"
	"pdf-annotator/internal/service"
	apperrors "pdf-annotator/pkg/errors"

	"github.com/gorilla/mux"
)

// ViewerHandler exposes viewer sessions over HTTP.
type ViewerHandler struct {
	viewers   *service.ViewerManager
	maxUpload int64
	logger    domain.Logger
}

// NewViewerHandler creates a new viewer handler
func NewViewerHandler(viewers *service.ViewerManager, maxUpload int64, logger domain.Logger) *ViewerHandler {
	return &ViewerHandler{
		viewers:   viewers,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

type openRequest struct {
	DocumentRef *domain.DocumentRef `json:"document_ref,omitempty"`
	Name        string              `json:"name,omitempty"`
}

type jumpRequest struct {
	Page int `json:"page"`
}

type toolRequest struct {
	Tool    string  `json:"tool"`
	Color   string  `json:"color,omitempty"`
	Width   float64 `json:"width,omitempty"`
	Opacity float64 `json:"opacity,omitempty"`
}

type draftRequest struct {
	Text string `json:"text"`
}

type commitSelectionRequest struct {
	Color string `json:"color,omitempty"`
}

type selectionResponse struct {
	Pending *service.PendingSelection `json:"pending,omitempty"`
	Ignored bool                      `json:"ignored"`
}

type pageResponse struct {
	service.PageView
	Overlay []service.OverlayItem `json:"overlay"`
}

// Open starts a session from a remote reference (JSON) or an uploaded file
// (multipart field "file").
func (h *ViewerHandler) Open(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not found in context")
		return
	}
	token, _ := GetTokenFromContext(r)

	req := service.OpenRequest{
		UserID: user.ID,
		Token:  token,
		OnUnauthorized: func(err error) {
			h.logger.Warn("Session credentials rejected", "user_id", user.ID, "error", err)
		},
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "File is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read upload")
			return
		}
		req.Name = strings.TrimSpace(filepath.Base(header.Filename))
		req.Data = data
	} else {
		var body openRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if body.DocumentRef == nil {
			writeError(w, http.StatusBadRequest, "document_ref is required")
			return
		}
		if body.Name != "" && body.DocumentRef.Name == "" {
			body.DocumentRef.Name = body.Name
		}
		req.Ref = body.DocumentRef
	}

	v, err := h.viewers.Open(r.Context(), req)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	info, err := v.Info()
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	h.logger.Info("Viewer opened", "viewer", info.ID, "user_id", user.ID, "pages", info.PageCount)
	writeJSON(w, http.StatusCreated, info)
}

// List returns the caller's open session ids.
func (h *ViewerHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := GetUserFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not found in context")
		return
	}
	ids := h.viewers.List(user.ID)
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"viewers": ids})
}

// viewer resolves {id} for the calling user, writing the error response
// when it cannot.
func (h *ViewerHandler) viewer(w http.ResponseWriter, r *http.Request) (*service.Viewer, bool) {
	user, ok := GetUserFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not found in context")
		return nil, false
	}
	v, err := h.viewers.Get(mux.Vars(r)["id"], user.ID)
	if err != nil {
		writeAppError(w, h.logger, err)
		return nil, false
	}
	return v, true
}

func pageParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil || n < 1 {
		return 0, apperrors.NewValidationError("page must be a positive integer")
	}
	return n, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.NewValidationError("Invalid request body", err.Error())
	}
	return nil
}

// Get describes the session.
func (h *ViewerHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	info, err := v.Info()
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Close ends the session.
func (h *ViewerHandler) Close(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	if err := v.Close(); err != nil {
		h.logger.Warn("Viewer closed with error", "viewer", v.ID(), "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateViewport applies scroll and zoom changes.
func (h *ViewerHandler) UpdateViewport(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var u service.ViewportUpdate
	if err := decodeBody(r, &u); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	state, err := v.UpdateViewport(u)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// JumpToPage scrolls a page to the top of the container.
func (h *ViewerHandler) JumpToPage(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var req jumpRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	state, err := v.JumpToPage(req.Page)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetPage returns the page's render state, text layer and overlay.
func (h *ViewerHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	n, err := pageParam(r)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	page, err := v.Page(n)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	overlay, err := v.Overlay(n)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{PageView: page, Overlay: overlay})
}

// GetOverlay returns the page's annotations in view pixels.
func (h *ViewerHandler) GetOverlay(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	n, err := pageParam(r)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	overlay, err := v.Overlay(n)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, overlay)
}

// GetRaster streams the page bitmap at render scale.
func (h *ViewerHandler) GetRaster(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	n, err := pageParam(r)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	img, err := v.PageRaster(r.Context(), n)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	h.writePNG(w, img)
}

// GetOverlayImage streams highlights and ink as a transparent bitmap that
// lines up with the raster.
func (h *ViewerHandler) GetOverlayImage(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	n, err := pageParam(r)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	img, err := v.OverlayImage(r.Context(), n)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	h.writePNG(w, img)
}

func (h *ViewerHandler) writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		h.logger.Debug("PNG write aborted", "error", err)
	}
}

// SetTool switches the active tool and its style.
func (h *ViewerHandler) SetTool(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var req toolRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	tool, err := service.ParseTool(req.Tool)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	style := domain.AnnotationStyle{Color: req.Color, Opacity: req.Opacity, StrokeWidth: req.Width}
	if err := v.SetTool(tool, style); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	info, err := v.Info()
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tool": info.Tool, "style": info.Style})
}

// Pointer feeds a page-relative pointer sample to the active tool.
func (h *ViewerHandler) Pointer(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	n, err := pageParam(r)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	var ev service.PointerEvent
	if err := decodeBody(r, &ev); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	outcome, err := v.Pointer(n, ev)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// CommitDraft saves the open note.
func (h *ViewerHandler) CommitDraft(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var req draftRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	a, err := v.CommitDraft(req.Text)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// CancelDraft discards the open note.
func (h *ViewerHandler) CancelDraft(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	if err := v.CancelDraft(); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Select reports a native selection-end event.
func (h *ViewerHandler) Select(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var ev service.SelectionEvent
	if err := decodeBody(r, &ev); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	pending, accepted, err := v.Select(ev)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{Pending: pending, Ignored: !accepted})
}

// ClearSelection drops the pending selection.
func (h *ViewerHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	if err := v.ClearSelection(); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CommitSelection turns the pending selection into highlights.
func (h *ViewerHandler) CommitSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var req commitSelectionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeAppError(w, h.logger, err)
			return
		}
	}
	created, err := v.CommitSelection(req.Color)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListAnnotations lists one page's records, or all with no page query.
func (h *ViewerHandler) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}
	list, err := v.Annotations(page)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if list == nil {
		list = make([]*domain.Annotation, 0)
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteAnnotation removes a record; highlight deletion takes its sibling
// fragments with it.
func (h *ViewerHandler) DeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	h.deleteWith(w, r, (*service.Viewer).DeleteAnnotation)
}

// DeleteNote removes a note through its explicit control.
func (h *ViewerHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	h.deleteWith(w, r, (*service.Viewer).DeleteNote)
}

func (h *ViewerHandler) deleteWith(w http.ResponseWriter, r *http.Request, del func(*service.Viewer, string) ([]*domain.Annotation, error)) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	removed, err := del(v, mux.Vars(r)["aid"])
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": removed})
}

// Summary lists one entry per logical annotation.
func (h *ViewerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	entries, err := v.Summary()
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = make([]service.SummaryEntry, 0)
	}
	writeJSON(w, http.StatusOK, entries)
}

// Digest downloads the reading notes as plain text.
func (h *ViewerHandler) Digest(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	name, text, err := v.Digest()
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// Export flattens the annotations and replaces the remote original.
func (h *ViewerHandler) Export(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	result, err := v.Export(r.Context())
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	h.logger.Info("Document exported", "viewer", v.ID(), "document", result.DocumentID)
	writeJSON(w, http.StatusOK, result)
}

