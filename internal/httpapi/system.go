package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"partfield-server/internal/bootstrap"
	"partfield-server/internal/domain"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	settings, err := s.app.GetSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings body: "+err.Error())
		return
	}

	saved, err := s.app.SaveSettings(settings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleDiagnostics reruns the environment checks so the report reflects the
// machine as it is now, not as it was at startup.
func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	report, err := s.app.RefreshDiagnostics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.GetCheckpoints())
}

func (s *Server) handleDownloadCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkpointID")

	settings, err := s.app.DownloadCheckpoint(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, bootstrap.ErrUnknownCheckpoint) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
