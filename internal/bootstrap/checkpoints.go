package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"partfield-server/internal/domain"
)

const checkpointDownloadTimeout = 45 * time.Minute

// ErrUnknownCheckpoint is returned for ids outside the built-in catalog.
var ErrUnknownCheckpoint = errors.New("unknown checkpoint id")

var checkpointCatalog = []domain.CheckpointOption{
	{
		ID:          "objaverse",
		Name:        "PartField (Objaverse)",
		FileName:    "model_objaverse.ckpt",
		URL:         "https://huggingface.co/mikaelaangel/partfield-ckpt/resolve/main/model_objaverse.ckpt",
		SizeLabel:   "~1.0 GB",
		Description: "Triplane feature model trained on Objaverse meshes.",
	},
}

// GetCheckpoints returns built-in checkpoint presets for one-call downloads.
func (a *App) GetCheckpoints() []domain.CheckpointOption {
	options := make([]domain.CheckpointOption, len(checkpointCatalog))
	copy(options, checkpointCatalog)

	settings, err := a.GetSettings()
	if err != nil {
		return options
	}
	markDownloadedCheckpoints(options, settings)
	return options
}

// DownloadCheckpoint downloads the selected checkpoint into the configured
// model directory and points settings.Checkpoint at it.
func (a *App) DownloadCheckpoint(checkpointID string) (domain.Settings, error) {
	id := strings.TrimSpace(checkpointID)
	if id == "" {
		return domain.Settings{}, fmt.Errorf("checkpoint id is required")
	}

	option, found := getCheckpointByID(id)
	if !found {
		return domain.Settings{}, fmt.Errorf("%w: %s", ErrUnknownCheckpoint, id)
	}

	settings, err := a.GetSettings()
	if err != nil {
		return domain.Settings{}, err
	}
	settings = normalizeSettings(settings)
	if settings.PartFieldDir == "" {
		return domain.Settings{}, fmt.Errorf("partfield directory is not configured")
	}

	relPath := filepath.Join("model", option.FileName)
	targetPath := filepath.Join(settings.PartFieldDir, relPath)
	if err := downloadURLToFile(targetPath, option.URL, checkpointDownloadTimeout); err != nil {
		return domain.Settings{}, fmt.Errorf("download checkpoint %s: %w", option.Name, err)
	}

	settings.Checkpoint = relPath
	return a.SaveSettings(settings)
}

func getCheckpointByID(id string) (domain.CheckpointOption, bool) {
	for _, option := range checkpointCatalog {
		if option.ID == id {
			return option, true
		}
	}
	return domain.CheckpointOption{}, false
}

// markDownloadedCheckpoints resolves each preset against the configured
// checkpoint path and the default model directory.
func markDownloadedCheckpoints(options []domain.CheckpointOption, settings domain.Settings) {
	if strings.TrimSpace(settings.PartFieldDir) == "" {
		return
	}

	for i := range options {
		candidates := []string{
			filepath.Join(settings.PartFieldDir, "model", options[i].FileName),
		}
		if configured := strings.TrimSpace(settings.Checkpoint); configured != "" &&
			filepath.Base(configured) == options[i].FileName {
			candidates = append(candidates, resolveCheckpointPath(settings, configured))
		}

		for _, candidate := range candidates {
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			options[i].Downloaded = true
			options[i].LocalPath = candidate
			break
		}
	}
}

// resolveCheckpointPath makes a configured checkpoint path absolute relative
// to the PartField install directory.
func resolveCheckpointPath(settings domain.Settings, checkpoint string) string {
	if filepath.IsAbs(checkpoint) {
		return checkpoint
	}
	return filepath.Join(settings.PartFieldDir, checkpoint)
}

// downloadURLToFile fetches a URL into destinationPath via a temp file so a
// partial download never replaces an existing checkpoint.
func downloadURLToFile(destinationPath string, sourceURL string, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "partfield-server")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Remove(destinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("remove old destination file: %w", err)
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}

	return nil
}
