// Package ledger records reviewer overrides of extracted fields and overlays
// them on the original values.
package ledger

import (
	"time"

	"github.com/doc-extract/backend/internal/models"
)

// Key identifies one live edit.
type Key struct {
	Ref   models.RecordRef
	Field string
}

// Ledger holds at most one live edit per (record, field). It is not safe for
// concurrent use.
type Ledger struct {
	edits   map[Key]*models.FieldEdit
	order   []Key
	version uint64
	now     func() time.Time
}

func New() *Ledger {
	return &Ledger{
		edits: make(map[Key]*models.FieldEdit),
		now:   time.Now,
	}
}

// Put records an edit of field in rec. The original value is captured from
// the record on the first edit of the key; later edits only replace the
// edited value and validation outcome.
func (l *Ledger) Put(ref models.RecordRef, rec *models.Record, field string, edited models.Value, status models.ValidationStatus, msg string) models.FieldEdit {
	key := Key{Ref: ref, Field: field}
	e, ok := l.edits[key]
	if !ok {
		original, _ := rec.Get(field)
		index := ref.Index
		e = &models.FieldEdit{
			FieldName:     field,
			OriginalValue: original,
			RecordIndex:   &index,
		}
		l.edits[key] = e
		l.order = append(l.order, key)
	}
	e.EditedValue = edited
	e.EditedAt = l.now()
	e.ValidationStatus = status
	e.ValidationMessage = msg
	l.version++
	return *e
}

// Restore reinstates a persisted edit verbatim.
func (l *Ledger) Restore(fileID string, e models.FieldEdit) {
	key := Key{Ref: models.RecordRef{FileID: fileID, Index: e.Index()}, Field: e.FieldName}
	if _, ok := l.edits[key]; !ok {
		l.order = append(l.order, key)
	}
	index := e.Index()
	e.RecordIndex = &index
	l.edits[key] = &e
	l.version++
}

// Get returns the live edit for a key.
func (l *Ledger) Get(ref models.RecordRef, field string) (models.FieldEdit, bool) {
	e, ok := l.edits[Key{Ref: ref, Field: field}]
	if !ok {
		return models.FieldEdit{}, false
	}
	return *e, true
}

// Effective returns the edited value when an edit exists, else the value in rec.
func (l *Ledger) Effective(ref models.RecordRef, rec *models.Record, field string) (models.Value, bool) {
	if e, ok := l.edits[Key{Ref: ref, Field: field}]; ok {
		return e.EditedValue, true
	}
	return rec.Get(field)
}

// EffectiveRecord returns a copy of rec with every edit of ref applied.
// Edited fields missing from rec are appended.
func (l *Ledger) EffectiveRecord(ref models.RecordRef, rec *models.Record) *models.Record {
	out := rec.Clone()
	for _, key := range l.order {
		if key.Ref == ref {
			out.Set(key.Field, l.edits[key].EditedValue)
		}
	}
	return out
}

// Edits returns the live edits of a file in the order they were first made.
func (l *Ledger) Edits(fileID string) []models.FieldEdit {
	var out []models.FieldEdit
	for _, key := range l.order {
		if key.Ref.FileID == fileID {
			out = append(out, *l.edits[key])
		}
	}
	return out
}

// Invalid returns the file's edits whose validation status is invalid.
func (l *Ledger) Invalid(fileID string) []models.FieldEdit {
	var out []models.FieldEdit
	for _, e := range l.Edits(fileID) {
		if e.ValidationStatus == models.ValidationInvalid {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops every edit of a file; the next edit captures a fresh original.
func (l *Ledger) Clear(fileID string) {
	kept := l.order[:0]
	for _, key := range l.order {
		if key.Ref.FileID == fileID {
			delete(l.edits, key)
			continue
		}
		kept = append(kept, key)
	}
	l.order = kept
	l.version++
}

// Reset drops all edits.
func (l *Ledger) Reset() {
	l.edits = make(map[Key]*models.FieldEdit)
	l.order = nil
	l.version++
}

// Len returns the number of live edits.
func (l *Ledger) Len() int { return len(l.order) }

// Version increases on every change; caches key derived views on it.
func (l *Ledger) Version() uint64 { return l.version }
