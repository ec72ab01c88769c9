package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"partfield-server/internal/domain"
	"partfield-server/internal/harvest"
	"partfield-server/internal/jobs"
	"partfield-server/internal/meshio"
	"partfield-server/internal/validate"
	"partfield-server/internal/workspace"
)

// multipartMemoryLimit bounds how much of the upload stays in memory before
// spilling to disk. The size cap itself is enforced by the validator.
const multipartMemoryLimit = 32 << 20

// handleCreateJob accepts a multipart upload plus parameters and runs the
// segmentation job to completion before responding. Progress is observable
// concurrently through the events endpoint.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	params, err := paramsFromForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	uploadPath, cleanup, err := spoolUpload(file, header)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store upload: "+err.Error())
		return
	}
	defer cleanup()

	result, err := s.app.RunJob(r.Context(), uploadPath, params)
	if err != nil {
		var wsErr *workspace.Error
		switch {
		case validate.IsValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &wsErr):
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.ListJobs())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.app.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job: "+jobID)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolveArtifact(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *Server) handleArtifactInfo(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolveArtifact(w, r)
	if !ok {
		return
	}

	geometry, err := meshio.Probe(path)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "probe artifact: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":      filepath.Base(path),
		"partCount": harvest.PartCount(path),
		"geometry":  geometry,
	})
}

// resolveArtifact maps route params onto a contained artifact path, writing
// the error response itself on failure.
func (s *Server) resolveArtifact(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := chi.URLParam(r, "jobID")
	name := chi.URLParam(r, "name")

	path, err := s.app.ArtifactPath(jobID, name)
	if err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, jobs.ErrUnknownJob) && !strings.Contains(err.Error(), "not found") {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return "", false
	}
	return path, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since value: "+raw)
			return
		}
		since = parsed
	}

	events := s.app.JobEvents(since, r.URL.Query().Get("job"))
	last := since
	if len(events) > 0 {
		last = events[len(events)-1].Seq
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"last":   last,
	})
}

// paramsFromForm decodes submission parameters, starting from defaults so
// absent fields keep their documented values.
func paramsFromForm(r *http.Request) (domain.Params, error) {
	params := domain.DefaultParams()

	var err error
	if params.IsPointCloud, err = formBool(r, "is_point_cloud", params.IsPointCloud); err != nil {
		return domain.Params{}, err
	}
	if params.MaxClusters, err = formInt(r, "max_clusters", params.MaxClusters); err != nil {
		return domain.Params{}, err
	}
	if params.UseAgglomerative, err = formBool(r, "use_agglomerative", params.UseAgglomerative); err != nil {
		return domain.Params{}, err
	}
	if params.PreprocessMesh, err = formBool(r, "preprocess_mesh", params.PreprocessMesh); err != nil {
		return domain.Params{}, err
	}
	if params.AddKNNEdges, err = formBool(r, "add_knn_edges", params.AddKNNEdges); err != nil {
		return domain.Params{}, err
	}
	if params.PointsPerFace, err = formInt(r, "points_per_face", params.PointsPerFace); err != nil {
		return domain.Params{}, err
	}

	if raw := r.FormValue("adjacency_option"); raw != "" {
		option, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Params{}, fmt.Errorf("invalid adjacency_option: %q", raw)
		}
		params.Adjacency = domain.AdjacencyOption(option)
	}

	return params, nil
}

func formBool(r *http.Request, field string, fallback bool) (bool, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", field, raw)
	}
	return value, nil
}

func formInt(r *http.Request, field string, fallback int) (int, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", field, raw)
	}
	return value, nil
}

// spoolUpload writes the multipart part to a temp file named after the
// original upload, since the validator and workspace key off that name.
func spoolUpload(file multipart.File, header *multipart.FileHeader) (string, func(), error) {
	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", nil, fmt.Errorf("upload has no usable file name")
	}

	dir, err := os.MkdirTemp("", "upload-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	_, copyErr := io.Copy(out, file)
	closeErr := out.Close()
	if copyErr != nil {
		cleanup()
		return "", nil, copyErr
	}
	if closeErr != nil {
		cleanup()
		return "", nil, closeErr
	}

	return path, cleanup, nil
}
