package aggregate

import (
	"strings"

	"github.com/doc-extract/backend/internal/models"
)

var errorTypeAliases = map[string]models.ErrorType{
	"password_protected": models.ErrorTypePasswordProtected,
	"password":           models.ErrorTypePasswordProtected,
	"encrypted":          models.ErrorTypePasswordProtected,
	"unsupported_format": models.ErrorTypeUnsupportedFormat,
	"unsupported":        models.ErrorTypeUnsupportedFormat,
	"unsupported_type":   models.ErrorTypeUnsupportedFormat,
	"corrupt_file":       models.ErrorTypeCorruptFile,
	"corrupt":            models.ErrorTypeCorruptFile,
	"corrupted":          models.ErrorTypeCorruptFile,
	"ocr_failure":        models.ErrorTypeOCRFailure,
	"ocr_error":          models.ErrorTypeOCRFailure,
	"ocr":                models.ErrorTypeOCRFailure,
	"timeout":            models.ErrorTypeTimeout,
	"timed_out":          models.ErrorTypeTimeout,
	"generic":            models.ErrorTypeGeneric,
}

// ClassifyError maps the backend's error classification to a known type.
// Unknown classifications and free-text-only errors are generic.
func ClassifyError(errorType string) models.ErrorType {
	key := strings.ToLower(strings.TrimSpace(errorType))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if t, ok := errorTypeAliases[key]; ok {
		return t
	}
	return models.ErrorTypeGeneric
}

// UserMessage returns the reviewer-facing explanation for an error type.
func UserMessage(t models.ErrorType) string {
	switch t {
	case models.ErrorTypePasswordProtected:
		return "The document is password protected. Remove the password and upload it again."
	case models.ErrorTypeUnsupportedFormat:
		return "The file format is not supported for extraction."
	case models.ErrorTypeCorruptFile:
		return "The file appears to be damaged and could not be read."
	case models.ErrorTypeOCRFailure:
		return "Text recognition failed. Try a higher quality scan."
	case models.ErrorTypeTimeout:
		return "Extraction took too long and was stopped."
	case models.ErrorTypeNone:
		return ""
	default:
		return "Extraction failed for this file."
	}
}
