package review

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFileNotFound            = errors.New("file not found in review session")
	ErrRecordOutOfRange        = errors.New("record index out of range")
	ErrEmptyFieldName          = errors.New("field name is required")
	ErrNoExtractedData         = errors.New("file has no extracted data to approve")
	ErrInvalidEdits            = errors.New("file has invalid field edits")
	ErrRejectionReasonRequired = errors.New("a rejection reason is required")
)

// ValidationError lists the fields whose invalid edits block approval.
type ValidationError struct {
	FileID string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cannot approve %s: fix invalid edits in %s", e.FileID, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEdits }
