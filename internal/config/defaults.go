package config

import "partfield-server/internal/domain"

// Defaults matching the reference RunPod deployment layout.
const (
	DefaultJobsDir     = "/workspace/jobs"
	DefaultPort        = 7860
	DefaultExpiryHours = 24
)

// DefaultSettings returns baseline configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		PartFieldDir: "/workspace/partfield",
		PythonBin:    "python3",
		Checkpoint:   "model/model_objaverse.ckpt",
		ConfigFile:   "configs/final/demo.yaml",
		ExpiryHours:  DefaultExpiryHours,
	}
}
