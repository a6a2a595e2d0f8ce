package models

import (
	"fmt"
	"time"
)

// ResultStatus is the per-file extraction outcome.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// ErrorType classifies a per-file extraction failure for user-facing messaging.
type ErrorType string

const (
	ErrorTypeNone              ErrorType = ""
	ErrorTypePasswordProtected ErrorType = "password_protected"
	ErrorTypeUnsupportedFormat ErrorType = "unsupported_format"
	ErrorTypeCorruptFile       ErrorType = "corrupt_file"
	ErrorTypeOCRFailure        ErrorType = "ocr_failure"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeGeneric           ErrorType = "generic"
)

// FileResult is one file's outcome within a run. It is never mutated after
// creation; reviewer edits live in the ledger.
type FileResult struct {
	ID             string       `json:"id"`
	Seq            int          `json:"seq"`
	Filename       string       `json:"filename"`
	Status         ResultStatus `json:"status"`
	Data           Value        `json:"structured_data"`
	Markdown       string       `json:"markdown_content,omitempty"`
	Error          string       `json:"error,omitempty"`
	ErrorType      ErrorType    `json:"error_type,omitempty"`
	ProcessingTime float64      `json:"processing_time,omitempty"`
	Attempt        int          `json:"attempt"`
	Partial        bool         `json:"partial,omitempty"`
	ReceivedAt     time.Time    `json:"received_at"`
}

// Records returns the structured records of the result: an object is a single
// record, an array yields each object element. Elements that are not objects
// are skipped, so record indexes count object elements only and can differ
// from positions in a mixed array.
func (r FileResult) Records() []*Record {
	switch r.Data.Kind() {
	case KindObject:
		return []*Record{r.Data.Record()}
	case KindArray:
		var out []*Record
		for _, item := range r.Data.Items() {
			if item.Kind() == KindObject {
				out = append(out, item.Record())
			}
		}
		return out
	}
	return nil
}

// HasRecords reports whether the result carries at least one extracted record.
func (r FileResult) HasRecords() bool {
	return r.Status == ResultSuccess && len(r.Records()) > 0
}

// RecordRef identifies one record inside a file result. Index is the
// position in Records(), not in the raw structured data.
type RecordRef struct {
	FileID string `json:"file_id"`
	Index  int    `json:"record_index"`
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s#%d", r.FileID, r.Index)
}
