package models

import "time"

// Document statuses.
const (
	FileStatusUploaded   = "uploaded"
	FileStatusExtracting = "extracting"
	FileStatusExtracted  = "extracted"
	FileStatusError      = "error"
)

// FileInfo represents metadata about an uploaded document.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"`
}
