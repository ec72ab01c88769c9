// Package httpapi exposes the segmentation job server over HTTP: multipart
// job submission, event polling, artifact download, and operator endpoints
// for settings, diagnostics, and checkpoint downloads.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"partfield-server/internal/bootstrap"
)

// Server binds the application to HTTP routes.
type Server struct {
	app    *bootstrap.App
	logger *slog.Logger
}

// NewServer builds the HTTP facade over a wired application.
func NewServer(app *bootstrap.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{app: app, logger: logger}
}

// Router assembles all routes. When public is set, browsers on other origins
// may call the API directly.
func (s *Server) Router(public bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if public {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/artifacts/{name}", s.handleDownloadArtifact)
		r.Get("/jobs/{jobID}/artifacts/{name}/info", s.handleArtifactInfo)
		r.Get("/events", s.handleEvents)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Get("/checkpoints", s.handleListCheckpoints)
		r.Post("/checkpoints/{checkpointID}/download", s.handleDownloadCheckpoint)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a normalized error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
