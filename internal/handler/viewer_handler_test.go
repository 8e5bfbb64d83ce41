package handler

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pdf-annotator/internal/domain"
	"pdf-annotator/internal/service"

	"github.com/stretchr/testify/require"
)

func call(t *testing.T, h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func upload(t *testing.T, h http.Handler, token, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/viewers", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

// openPaper uploads paper.pdf as alice and returns the viewer path.
func openPaper(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := upload(t, h, "alice-token", "paper.pdf", samplePDF)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	info := decode[service.ViewerInfo](t, rr)
	return "/api/v1/viewers/" + info.ID
}

func TestViewerHandler_UploadAndDescribe(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()

	rr := upload(t, router, "alice-token", "paper.pdf", samplePDF)
	require.Equal(t, http.StatusCreated, rr.Code)
	info := decode[service.ViewerInfo](t, rr)
	require.Equal(t, "paper.pdf", info.Name)
	require.Equal(t, 3, info.PageCount)
	require.False(t, info.Remote)
	require.False(t, info.ExportAvailable)
	require.Equal(t, service.ToolCursor, info.Tool)

	base := "/api/v1/viewers/" + info.ID
	rr = call(t, router, http.MethodGet, base, "alice-token", "")
	require.Equal(t, http.StatusOK, rr.Code)

	// Sessions are private to the user that opened them.
	rr = call(t, router, http.MethodGet, base, "bob-token", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(t, router, http.MethodGet, "/api/v1/viewers", "alice-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{info.ID}, decode[map[string][]string](t, rr)["viewers"])
	rr = call(t, router, http.MethodGet, "/api/v1/viewers", "bob-token", "")
	require.Empty(t, decode[map[string][]string](t, rr)["viewers"])
}

func TestViewerHandler_OpenRemote(t *testing.T) {
	store := newMemStore()
	store.objects["shelf/paper.pdf"] = samplePDF
	router, viewers := newTestAPI(store)
	defer viewers.CloseAll()

	rr := call(t, router, http.MethodPost, "/api/v1/viewers", "alice-token", `{"document_ref":{"id":"shelf/paper.pdf"}}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	info := decode[service.ViewerInfo](t, rr)
	require.True(t, info.Remote)
	require.True(t, info.ExportAvailable)
	require.Equal(t, "paper.pdf", info.Name)

	rr = call(t, router, http.MethodPost, "/api/v1/viewers", "alice-token", `{"document_ref":{"id":"shelf/missing.pdf"}}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, rr.Body.String(), `"type":"source_unavailable"`)
}

func TestViewerHandler_OpenRejectsBadInput(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()

	tests := []struct {
		name string
		do   func() *httptest.ResponseRecorder
	}{
		{"no body", func() *httptest.ResponseRecorder {
			return call(t, router, http.MethodPost, "/api/v1/viewers", "alice-token", "")
		}},
		{"missing ref", func() *httptest.ResponseRecorder {
			return call(t, router, http.MethodPost, "/api/v1/viewers", "alice-token", `{"name":"x.pdf"}`)
		}},
		{"not a pdf", func() *httptest.ResponseRecorder {
			return upload(t, router, "alice-token", "notes.txt", []byte("hello"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := tt.do()
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
	require.Empty(t, viewers.List("alice"))
}

func TestViewerHandler_RasterAndOverlayImages(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()
	base := openPaper(t, router)

	for _, suffix := range []string{"/raster.png", "/overlay.png"} {
		rr := call(t, router, http.MethodGet, base+"/pages/2"+suffix, "alice-token", "")
		require.Equal(t, http.StatusOK, rr.Code, suffix)
		require.Equal(t, "image/png", rr.Header().Get("Content-Type"))
		img, err := png.Decode(rr.Body)
		require.NoError(t, err)
		require.Equal(t, 1224, img.Bounds().Dx(), suffix)
		require.Equal(t, 1584, img.Bounds().Dy(), suffix)
	}

	rr := call(t, router, http.MethodGet, base+"/pages/9/raster.png", "alice-token", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = call(t, router, http.MethodGet, base+"/pages/0", "alice-token", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestViewerHandler_ZoomOnlyChangesTransform(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()
	base := openPaper(t, router)

	rr := call(t, router, http.MethodGet, base+"/pages/1/raster.png", "alice-token", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = call(t, router, http.MethodPut, base+"/viewport", "alice-token", `{"container_width":1000,"container_height":800,"view_scale":3}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	state := decode[service.ViewportState](t, rr)
	require.Equal(t, 3.0, state.ViewScale)

	rr = call(t, router, http.MethodGet, base+"/pages/1", "alice-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[service.PageView](t, rr)
	require.Equal(t, 1.5, page.Transform)
	require.Equal(t, domain.Size{Width: 1224, Height: 1584}, page.RasterSize)
	require.Equal(t, domain.Size{Width: 1836, Height: 2376}, page.DisplaySize)

	rr = call(t, router, http.MethodPut, base+"/viewport", "alice-token", `{"zoom":"sideways"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, http.MethodPost, base+"/jump", "alice-token", `{"page":3}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = call(t, router, http.MethodPost, base+"/jump", "alice-token", `{"page":4}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestViewerHandler_InkThenErase(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()
	base := openPaper(t, router)

	rr := call(t, router, http.MethodPut, base+"/tool", "alice-token", `{"tool":"ink","width":4}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	for _, ev := range []string{
		`{"phase":"down","x":10,"y":10}`,
		`{"phase":"move","x":50,"y":10}`,
		`{"phase":"up","x":90,"y":10}`,
	} {
		rr = call(t, router, http.MethodPost, base+"/pages/1/pointer", "alice-token", ev)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	outcome := decode[map[string]json.RawMessage](t, rr)
	require.Contains(t, outcome, "created")

	rr = call(t, router, http.MethodGet, base+"/annotations?page=1", "alice-token", "")
	list := decode[[]*domain.Annotation](t, rr)
	require.Len(t, list, 1)
	require.Equal(t, domain.KindInk, list[0].Kind)
	require.Equal(t, 4.0, list[0].StrokeWidth)
	require.Len(t, list[0].Points, 3)

	rr = call(t, router, http.MethodPut, base+"/tool", "alice-token", `{"tool":"eraser"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = call(t, router, http.MethodPost, base+"/pages/1/pointer", "alice-token", `{"phase":"down","x":50,"y":12}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"deleted"`)

	rr = call(t, router, http.MethodGet, base+"/annotations", "alice-token", "")
	require.Empty(t, decode[[]*domain.Annotation](t, rr))

	rr = call(t, router, http.MethodPut, base+"/tool", "alice-token", `{"tool":"laser"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestViewerHandler_NoteLifecycle(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()
	base := openPaper(t, router)

	rr := call(t, router, http.MethodPost, base+"/draft", "alice-token", `{"text":"orphan"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	call(t, router, http.MethodPut, base+"/tool", "alice-token", `{"tool":"text"}`)
	rr = call(t, router, http.MethodPost, base+"/pages/2/pointer", "alice-token", `{"phase":"down","x":40,"y":60}`)
	require.Contains(t, rr.Body.String(), `"draft"`)

	rr = call(t, router, http.MethodPost, base+"/draft", "alice-token", `{"text":"  "}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = call(t, router, http.MethodPost, base+"/draft", "alice-token", `{"text":"check this"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[domain.Annotation](t, rr)
	require.Equal(t, domain.KindNote, created.Kind)
	require.Equal(t, 2, created.Page)

	rr = call(t, router, http.MethodDelete, base+"/notes/"+created.ID, "alice-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = call(t, router, http.MethodDelete, base+"/notes/"+created.ID, "alice-token", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(t, router, http.MethodDelete, base+"/draft", "alice-token", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestViewerHandler_SelectionToDigest(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()
	base := openPaper(t, router)

	rr := call(t, router, http.MethodPost, base+"/selection/commit", "alice-token", "")
	require.Equal(t, http.StatusConflict, rr.Code)

	ev := `{
		"ancestry": [{"kind":"other"},{"kind":"page","page":1}],
		"text": "Important sentence",
		"client_rects": [{"x":110,"y":220,"width":200,"height":16},{"x":100,"y":240,"width":80,"height":16}],
		"container": {"x":0,"y":0,"width":1000,"height":800},
		"page_origin": {"x":100,"y":200}
	}`
	rr = call(t, router, http.MethodPost, base+"/selection", "alice-token", ev)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sel := decode[struct {
		Pending *service.PendingSelection `json:"pending"`
		Ignored bool                      `json:"ignored"`
	}](t, rr)
	require.False(t, sel.Ignored)
	require.Equal(t, 1, sel.Pending.Page)
	require.Equal(t, domain.Rect{X: 10, Y: 20, Width: 200, Height: 16}, sel.Pending.Rects[0])

	rr = call(t, router, http.MethodPost, base+"/selection/commit", "alice-token", `{"color":"#00ff00"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[[]*domain.Annotation](t, rr)
	require.Len(t, created, 2)

	rr = call(t, router, http.MethodGet, base+"/summary", "alice-token", "")
	summary := decode[[]service.SummaryEntry](t, rr)
	require.Len(t, summary, 1)
	require.Equal(t, "Important sentence", summary[0].Text)

	rr = call(t, router, http.MethodGet, base+"/digest", "alice-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, `attachment; filename=paper-notes.txt`, rr.Header().Get("Content-Disposition"))
	require.Contains(t, rr.Body.String(), "Page 1\n- Important sentence\n")

	// Deleting one fragment removes the whole highlight.
	rr = call(t, router, http.MethodDelete, base+"/annotations/"+created[1].ID, "alice-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = call(t, router, http.MethodGet, base+"/annotations", "alice-token", "")
	require.Empty(t, decode[[]*domain.Annotation](t, rr))
}

func TestViewerHandler_ExportNeedsRemoteDocument(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()
	base := openPaper(t, router)

	rr := call(t, router, http.MethodPost, base+"/export", "alice-token", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), domain.ErrExportUnavailable.Error())
}

func TestViewerHandler_CloseEndsSession(t *testing.T) {
	router, viewers := newTestAPI(newMemStore())
	defer viewers.CloseAll()
	base := openPaper(t, router)

	rr := call(t, router, http.MethodDelete, base, "bob-token", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = call(t, router, http.MethodDelete, base, "alice-token", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = call(t, router, http.MethodGet, base, "alice-token", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
