package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(viewerHandler *ViewerHandler, authMiddleware func(http.Handler) http.Handler, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()

	// Health check endpoint (no auth required)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pdf-annotator"})
	}).Methods("GET")

	protected := router.PathPrefix("/api/v1").Subrouter()
	protected.Use(authMiddleware)

	protected.HandleFunc("/viewers", viewerHandler.Open).Methods("POST")
	protected.HandleFunc("/viewers", viewerHandler.List).Methods("GET")
	protected.HandleFunc("/viewers/{id}", viewerHandler.Get).Methods("GET")
	protected.HandleFunc("/viewers/{id}", viewerHandler.Close).Methods("DELETE")

	// Scroll and zoom
	protected.HandleFunc("/viewers/{id}/viewport", viewerHandler.UpdateViewport).Methods("PUT")
	protected.HandleFunc("/viewers/{id}/jump", viewerHandler.JumpToPage).Methods("POST")

	// Pages
	protected.HandleFunc("/viewers/{id}/pages/{page:[0-9]+}", viewerHandler.GetPage).Methods("GET")
	protected.HandleFunc("/viewers/{id}/pages/{page:[0-9]+}/raster.png", viewerHandler.GetRaster).Methods("GET")
	protected.HandleFunc("/viewers/{id}/pages/{page:[0-9]+}/overlay.png", viewerHandler.GetOverlayImage).Methods("GET")
	protected.HandleFunc("/viewers/{id}/pages/{page:[0-9]+}/overlay", viewerHandler.GetOverlay).Methods("GET")
	protected.HandleFunc("/viewers/{id}/pages/{page:[0-9]+}/pointer", viewerHandler.Pointer).Methods("POST")

	// Tools and drafts
	protected.HandleFunc("/viewers/{id}/tool", viewerHandler.SetTool).Methods("PUT")
	protected.HandleFunc("/viewers/{id}/draft", viewerHandler.CommitDraft).Methods("POST")
	protected.HandleFunc("/viewers/{id}/draft", viewerHandler.CancelDraft).Methods("DELETE")
	protected.HandleFunc("/viewers/{id}/selection", viewerHandler.Select).Methods("POST")
	protected.HandleFunc("/viewers/{id}/selection", viewerHandler.ClearSelection).Methods("DELETE")
	protected.HandleFunc("/viewers/{id}/selection/commit", viewerHandler.CommitSelection).Methods("POST")

	// Annotations
	protected.HandleFunc("/viewers/{id}/annotations", viewerHandler.ListAnnotations).Methods("GET")
	protected.HandleFunc("/viewers/{id}/annotations/{aid}", viewerHandler.DeleteAnnotation).Methods("DELETE")
	protected.HandleFunc("/viewers/{id}/notes/{aid}", viewerHandler.DeleteNote).Methods("DELETE")
	protected.HandleFunc("/viewers/{id}/summary", viewerHandler.Summary).Methods("GET")
	protected.HandleFunc("/viewers/{id}/digest", viewerHandler.Digest).Methods("GET")
	protected.HandleFunc("/viewers/{id}/export", viewerHandler.Export).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-CSRF-Token",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
		},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler(router)
}
