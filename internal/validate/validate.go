// Package validate inspects uploaded 3D assets before any resource is
// allocated for them. Checks are pure and short-circuit on first failure.
package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the upload ceiling in bytes (100 MiB).
const MaxFileSize = 100 << 20

// supportedExtensions is the closed set of accepted input formats.
var supportedExtensions = map[string]bool{
	".obj": true,
	".glb": true,
	".off": true,
	".ply": true,
}

// reservedNames are basenames silently skipped by the inference engine.
var reservedNames = map[string]bool{
	"car":         true,
	"complex_car": true,
}

// Error is a typed rejection with a stable reason code.
type Error struct {
	Reason  Reason
	Message string
}

// Reason identifies which validation rule rejected the file.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonUnsupportedFormat Reason = "unsupported_format"
	ReasonTooLarge          Reason = "too_large"
	ReasonReservedName      Reason = "reserved_name"
)

func (e *Error) Error() string {
	return e.Message
}

// IsValidationError reports whether err is a file rejection.
func IsValidationError(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

// File checks an uploaded asset against format, size, and name rules.
// It returns nil when the file is accepted.
func File(path string) error {
	if strings.TrimSpace(path) == "" {
		return &Error{Reason: ReasonNotFound, Message: "No file uploaded"}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &Error{Reason: ReasonNotFound, Message: "File does not exist"}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return &Error{
			Reason:  ReasonUnsupportedFormat,
			Message: fmt.Sprintf("Unsupported format: %s. Supported: %s", ext, strings.Join(SupportedExtensions(), ", ")),
		}
	}

	if info.Size() > MaxFileSize {
		sizeMB := float64(info.Size()) / (1024 * 1024)
		return &Error{
			Reason:  ReasonTooLarge,
			Message: fmt.Sprintf("File too large: %.1fMB (max 100MB)", sizeMB),
		}
	}

	base := filepath.Base(path)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	if reservedNames[stem] {
		return &Error{
			Reason:  ReasonReservedName,
			Message: fmt.Sprintf("The filename '%s' is reserved and will be skipped by the model. Please rename your file.", base),
		}
	}

	return nil
}

// SupportedExtensions returns the accepted extensions in a stable order.
func SupportedExtensions() []string {
	return []string{".obj", ".glb", ".off", ".ply"}
}
