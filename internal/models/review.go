package models

import "time"

// ReviewStatus is the reviewer-facing state of one file.
type ReviewStatus string

const (
	ReviewNotReviewed ReviewStatus = "not_reviewed"
	ReviewInReview    ReviewStatus = "in_review"
	ReviewApproved    ReviewStatus = "approved"
	ReviewRejected    ReviewStatus = "rejected"
)

// ValidationStatus is the outcome of validating one field edit.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationWarning ValidationStatus = "warning"
)

// ApprovalStatus is the recorded reviewer decision.
type ApprovalStatus string

const (
	DecisionApproved ApprovalStatus = "approved"
	DecisionRejected ApprovalStatus = "rejected"
)

// FieldEdit is a reviewer override of one field. OriginalValue is captured at
// the first edit and kept until the edits of the record are cleared.
type FieldEdit struct {
	FieldName         string           `json:"field_name"`
	OriginalValue     Value            `json:"original_value"`
	EditedValue       Value            `json:"edited_value"`
	EditedAt          time.Time        `json:"edited_at"`
	ValidationStatus  ValidationStatus `json:"validation_status"`
	ValidationMessage string           `json:"validation_message,omitempty"`
	RecordIndex       *int             `json:"record_index,omitempty"`
}

// Index returns the record index, defaulting to the first record.
func (e FieldEdit) Index() int {
	if e.RecordIndex == nil {
		return 0
	}
	return *e.RecordIndex
}

// ApprovalMetadata records the last reviewer decision for a file.
type ApprovalMetadata struct {
	ApprovedAt      time.Time      `json:"approved_at"`
	ApprovedBy      string         `json:"approved_by"`
	ApprovalStatus  ApprovalStatus `json:"approval_status"`
	Comments        string         `json:"comments,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// ProcessingMetadata carries extraction details surfaced next to a file.
type ProcessingMetadata struct {
	ProcessingTime float64   `json:"processing_time,omitempty"`
	ErrorType      ErrorType `json:"error_type,omitempty"`
	Error          string    `json:"error,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Attempt        int       `json:"attempt,omitempty"`
	Partial        bool      `json:"partial,omitempty"`
	Markdown       string    `json:"markdown_content,omitempty"`
}

// FileReviewStatus is the review state of one file in a session.
type FileReviewStatus struct {
	FileID        string             `json:"file_id"`
	Filename      string             `json:"filename"`
	Status        ReviewStatus       `json:"status"`
	HasErrors     bool               `json:"has_errors"`
	ExtractedData Value              `json:"extracted_data"`
	Edits         []FieldEdit        `json:"edits"`
	Approval      *ApprovalMetadata  `json:"approval_metadata,omitempty"`
	Processing    ProcessingMetadata `json:"processing_metadata"`
}

// BatchMetadata describes the run a review session was created from.
type BatchMetadata struct {
	RunID            string   `json:"run_id"`
	ModelKey         string   `json:"model_key,omitempty"`
	ModelName        string   `json:"model_name,omitempty"`
	AIModel          string   `json:"ai_model,omitempty"`
	Fields           []string `json:"fields,omitempty"`
	TotalFiles       int      `json:"total_files"`
	Successful       int      `json:"successful"`
	Failed           int      `json:"failed"`
	RunState         RunState `json:"run_state"`
	PasswordRequired []string `json:"password_required,omitempty"`
	View             ViewMode `json:"view,omitempty"`
}

// ReviewSession is the durable unit of files, edits and decisions.
type ReviewSession struct {
	SessionID     string             `json:"session_id"`
	Files         []FileReviewStatus `json:"files"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	BatchMetadata BatchMetadata      `json:"batch_metadata"`
}

// Clone copies the session so callers cannot reach the owner's slices.
func (s *ReviewSession) Clone() *ReviewSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Files = make([]FileReviewStatus, len(s.Files))
	for i, f := range s.Files {
		f.Edits = append([]FieldEdit(nil), f.Edits...)
		if f.Approval != nil {
			approval := *f.Approval
			f.Approval = &approval
		}
		out.Files[i] = f
	}
	out.BatchMetadata.Fields = append([]string(nil), s.BatchMetadata.Fields...)
	out.BatchMetadata.PasswordRequired = append([]string(nil), s.BatchMetadata.PasswordRequired...)
	return &out
}

// Counts tallies files by review status.
func (s *ReviewSession) Counts() map[ReviewStatus]int {
	out := make(map[ReviewStatus]int, 4)
	for _, f := range s.Files {
		out[f.Status]++
	}
	return out
}

// ReviewSummary is the listing form of a persisted session.
type ReviewSummary struct {
	SessionID  string               `json:"session_id"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	ModelKey   string               `json:"model_key,omitempty"`
	RunState   RunState             `json:"run_state"`
	TotalFiles int                  `json:"total_files"`
	Counts     map[ReviewStatus]int `json:"counts"`
}

// Summary returns the listing form of the session.
func (s *ReviewSession) Summary() ReviewSummary {
	return ReviewSummary{
		SessionID:  s.SessionID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		ModelKey:   s.BatchMetadata.ModelKey,
		RunState:   s.BatchMetadata.RunState,
		TotalFiles: len(s.Files),
		Counts:     s.Counts(),
	}
}
