// Package review tracks per-file review status, field edits and approval
// decisions for one review session.
package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/doc-extract/backend/internal/aggregate"
	"github.com/doc-extract/backend/internal/ledger"
	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/schema"
)

const defaultApprover = "unknown"

// Edit is one requested field change.
type Edit struct {
	Field       string       `json:"field_name"`
	Value       models.Value `json:"edited_value"`
	RecordIndex int          `json:"record_index"`
}

// Approval carries the reviewer's approve decision.
type Approval struct {
	ApprovedBy string `json:"approved_by"`
	Comments   string `json:"comments,omitempty"`
}

// Rejection carries the reviewer's reject decision.
type Rejection struct {
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"rejection_reason"`
	Comments   string `json:"comments,omitempty"`
}

// Store owns the FileReviewStatus entries of one session. It is not safe for
// concurrent use.
type Store struct {
	session *models.ReviewSession
	index   map[string]int
	results map[string]models.FileResult
	ledger  *ledger.Ledger
	schema  models.SchemaComplexity
	hints   *schema.Hints
	now     func() time.Time
}

// NewStore creates a session with one not_reviewed entry per result.
// Failed extractions carry has_errors.
func NewStore(sessionID string, results []models.FileResult, meta models.BatchMetadata, l *ledger.Ledger) *Store {
	if l == nil {
		l = ledger.New()
	}
	s := &Store{
		index:   make(map[string]int, len(results)),
		results: make(map[string]models.FileResult, len(results)),
		ledger:  l,
		now:     time.Now,
	}
	now := s.now()
	s.session = &models.ReviewSession{
		SessionID:     sessionID,
		Files:         make([]models.FileReviewStatus, 0, len(results)),
		CreatedAt:     now,
		UpdatedAt:     now,
		BatchMetadata: meta,
	}
	for _, r := range results {
		s.add(r)
	}
	return s
}

// Restore rebuilds a store from a persisted session, reinstating its edits
// into l.
func Restore(sess *models.ReviewSession, l *ledger.Ledger) *Store {
	if l == nil {
		l = ledger.New()
	}
	s := &Store{
		session: sess.Clone(),
		index:   make(map[string]int, len(sess.Files)),
		results: make(map[string]models.FileResult, len(sess.Files)),
		ledger:  l,
		now:     time.Now,
	}
	for i, f := range s.session.Files {
		s.index[f.FileID] = i
		status := models.ResultSuccess
		if f.HasErrors {
			status = models.ResultError
		}
		s.results[f.FileID] = models.FileResult{
			ID:             f.FileID,
			Seq:            i,
			Filename:       f.Filename,
			Status:         status,
			Data:           f.ExtractedData,
			Error:          f.Processing.Error,
			ErrorType:      f.Processing.ErrorType,
			ProcessingTime: f.Processing.ProcessingTime,
			Attempt:        f.Processing.Attempt,
			Partial:        f.Processing.Partial,
			Markdown:       f.Processing.Markdown,
		}
		l.Clear(f.FileID)
		for _, e := range f.Edits {
			l.Restore(f.FileID, e)
		}
	}
	return s
}

func (s *Store) add(r models.FileResult) {
	s.index[r.ID] = len(s.session.Files)
	s.results[r.ID] = r
	s.session.Files = append(s.session.Files, models.FileReviewStatus{
		FileID:        r.ID,
		Filename:      r.Filename,
		Status:        models.ReviewNotReviewed,
		HasErrors:     r.Status == models.ResultError,
		ExtractedData: r.Data,
		Edits:         []models.FieldEdit{},
		Processing: models.ProcessingMetadata{
			ProcessingTime: r.ProcessingTime,
			ErrorType:      r.ErrorType,
			Error:          r.Error,
			ErrorMessage:   userMessage(r),
			Attempt:        r.Attempt,
			Partial:        r.Partial,
			Markdown:       r.Markdown,
		},
	})
}

// SetSchema sets the analysis used to pick each field's validation rules.
func (s *Store) SetSchema(sc models.SchemaComplexity, hints *schema.Hints) {
	s.schema = sc
	s.hints = hints
}

// Ledger returns the edit ledger shared with the run's read paths.
func (s *Store) Ledger() *ledger.Ledger { return s.ledger }

// ID returns the session id.
func (s *Store) ID() string { return s.session.SessionID }

// Session returns a snapshot of the session with current edits.
func (s *Store) Session() *models.ReviewSession {
	for i := range s.session.Files {
		s.session.Files[i].Edits = s.editsOf(s.session.Files[i].FileID)
	}
	return s.session.Clone()
}

// Results returns the results the session was built from, in file order.
func (s *Store) Results() []models.FileResult {
	out := make([]models.FileResult, 0, len(s.session.Files))
	for _, f := range s.session.Files {
		out = append(out, s.results[f.FileID])
	}
	return out
}

// File returns a snapshot of one file's review status.
func (s *Store) File(fileID string) (models.FileReviewStatus, error) {
	f, err := s.file(fileID)
	if err != nil {
		return models.FileReviewStatus{}, err
	}
	out := *f
	out.Edits = s.editsOf(fileID)
	if f.Approval != nil {
		approval := *f.Approval
		out.Approval = &approval
	}
	return out, nil
}

// UpdateFields validates and records edits for one file. Every edit is
// stored, invalid ones included; the file moves to in_review.
func (s *Store) UpdateFields(fileID string, edits []Edit) ([]models.FieldEdit, error) {
	f, err := s.file(fileID)
	if err != nil {
		return nil, err
	}
	records := s.results[fileID].Records()
	for _, e := range edits {
		if strings.TrimSpace(e.Field) == "" {
			return nil, ErrEmptyFieldName
		}
		if e.RecordIndex < 0 || (e.RecordIndex > 0 && e.RecordIndex >= len(records)) {
			return nil, fmt.Errorf("%w: %d", ErrRecordOutOfRange, e.RecordIndex)
		}
	}

	stored := make([]models.FieldEdit, 0, len(edits))
	for _, e := range edits {
		var rec *models.Record
		if e.RecordIndex < len(records) {
			rec = records[e.RecordIndex]
		}
		ref := models.RecordRef{FileID: fileID, Index: e.RecordIndex}
		meta := s.fieldMeta(e.Field, extractedValue(s.ledger, ref, rec, e.Field))

		status, msg := Validate(meta, e.Value)
		stored = append(stored, s.ledger.Put(ref, rec, e.Field, e.Value, status, msg))
	}

	if len(stored) > 0 {
		f.Status = models.ReviewInReview
		s.touch()
	}
	return stored, nil
}

// Approve records an approval. Files without extracted records and files with
// outstanding invalid edits cannot be approved.
func (s *Store) Approve(fileID string, a Approval) (models.FileReviewStatus, error) {
	f, err := s.file(fileID)
	if err != nil {
		return models.FileReviewStatus{}, err
	}
	if !s.results[fileID].HasRecords() {
		return models.FileReviewStatus{}, ErrNoExtractedData
	}
	if invalid := s.ledger.Invalid(fileID); len(invalid) > 0 {
		verr := &ValidationError{FileID: fileID}
		for _, e := range invalid {
			verr.Fields = append(verr.Fields, e.FieldName)
		}
		return models.FileReviewStatus{}, verr
	}

	approver := strings.TrimSpace(a.ApprovedBy)
	if approver == "" {
		approver = defaultApprover
	}
	f.Approval = &models.ApprovalMetadata{
		ApprovedAt:     s.now(),
		ApprovedBy:     approver,
		ApprovalStatus: models.DecisionApproved,
		Comments:       a.Comments,
	}
	f.Status = models.ReviewApproved
	s.touch()
	return s.File(fileID)
}

// Reject records a rejection; a reason is mandatory.
func (s *Store) Reject(fileID string, r Rejection) (models.FileReviewStatus, error) {
	f, err := s.file(fileID)
	if err != nil {
		return models.FileReviewStatus{}, err
	}
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		return models.FileReviewStatus{}, ErrRejectionReasonRequired
	}

	by := strings.TrimSpace(r.RejectedBy)
	if by == "" {
		by = defaultApprover
	}
	f.Approval = &models.ApprovalMetadata{
		ApprovedAt:      s.now(),
		ApprovedBy:      by,
		ApprovalStatus:  models.DecisionRejected,
		Comments:        r.Comments,
		RejectionReason: reason,
	}
	f.Status = models.ReviewRejected
	s.touch()
	return s.File(fileID)
}

// Reopen moves an approved or rejected file back to in_review. The last
// decision's metadata stays until the next decision replaces it.
func (s *Store) Reopen(fileID string) (models.FileReviewStatus, error) {
	f, err := s.file(fileID)
	if err != nil {
		return models.FileReviewStatus{}, err
	}
	if f.Status == models.ReviewApproved || f.Status == models.ReviewRejected {
		f.Status = models.ReviewInReview
		s.touch()
	}
	return s.File(fileID)
}

func (s *Store) file(fileID string) (*models.FileReviewStatus, error) {
	i, ok := s.index[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	return &s.session.Files[i], nil
}

func (s *Store) editsOf(fileID string) []models.FieldEdit {
	edits := s.ledger.Edits(fileID)
	if edits == nil {
		return []models.FieldEdit{}
	}
	return edits
}

// extractedValue returns the field's value before any edit.
func extractedValue(l *ledger.Ledger, ref models.RecordRef, rec *models.Record, field string) models.Value {
	if e, ok := l.Get(ref, field); ok {
		return e.OriginalValue
	}
	if rec == nil {
		return models.Null()
	}
	v, _ := rec.Get(field)
	return v
}

// fieldMeta prefers the run's analysis; fields it does not know are inferred
// from the extracted value.
func (s *Store) fieldMeta(field string, original models.Value) models.FieldMeta {
	if meta, ok := s.schema.Field(field); ok {
		return meta
	}
	hint := s.hints.Field(field)
	meta := models.FieldMeta{
		Name:     field,
		Label:    hint.Label,
		Type:     schema.InferType(field, original, hint),
		Required: hint.Required,
		Enum:     hint.Enum,
		Pattern:  hint.Pattern,
	}
	if meta.Label == "" {
		meta.Label = schema.Label(field)
	}
	return meta
}

func (s *Store) touch() {
	s.session.UpdatedAt = s.now()
}

func userMessage(r models.FileResult) string {
	if r.Status != models.ResultError {
		return ""
	}
	return aggregate.UserMessage(r.ErrorType)
}
