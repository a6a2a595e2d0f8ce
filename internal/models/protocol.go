package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType discriminates protocol events on the extraction stream.
type EventType string

const (
	EventInit              EventType = "init"
	EventProgress          EventType = "progress"
	EventResult            EventType = "result"
	EventConversionSummary EventType = "conversion_summary"
	EventComplete          EventType = "complete"
	EventError             EventType = "error"
)

// ErrUnknownEventType is returned when a frame carries a type this client does not know.
var ErrUnknownEventType = errors.New("unknown event type")

// ProtocolEvent is one decoded unit of the streaming extraction response.
// Exactly one payload pointer matching Type is set.
type ProtocolEvent struct {
	Type       EventType
	Init       *InitEvent
	Progress   *ProgressEvent
	Result     *ResultEvent
	Conversion *ConversionSummary
	Complete   *CompleteEvent
	Error      *ErrorEvent
}

// InitEvent announces the field list and model identity for a run.
type InitEvent struct {
	ModelFields []string `json:"model_fields"`
	ModelKey    string   `json:"model_key"`
	ModelName   string   `json:"model_name"`
	AIModel     string   `json:"ai_model"`
	TotalFiles  int      `json:"total_files"`
}

// Equal reports whether two init events carry identical content.
func (e *InitEvent) Equal(o *InitEvent) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.ModelKey != o.ModelKey || e.ModelName != o.ModelName ||
		e.AIModel != o.AIModel || e.TotalFiles != o.TotalFiles ||
		len(e.ModelFields) != len(o.ModelFields) {
		return false
	}
	for i := range e.ModelFields {
		if e.ModelFields[i] != o.ModelFields[i] {
			return false
		}
	}
	return true
}

// ProgressEvent carries run counters. Successful/Failed are only present when
// the progress is embedded in a result event.
type ProgressEvent struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Successful int `json:"successful,omitempty"`
	Failed     int `json:"failed,omitempty"`
}

// ResultEvent is one file's outcome.
type ResultEvent struct {
	Filename        string         `json:"filename"`
	Status          ResultStatus   `json:"status"`
	StructuredData  Value          `json:"structured_data"`
	MarkdownContent string         `json:"markdown_content,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorType       string         `json:"error_type,omitempty"`
	ProcessingTime  float64        `json:"processing_time,omitempty"`
	Partial         bool           `json:"partial,omitempty"`
	Progress        *ProgressEvent `json:"progress,omitempty"`
}

// ConversionSummary carries side-channel warnings from document conversion.
type ConversionSummary struct {
	PasswordRequired []string
	Warnings         *Record
}

// UnmarshalJSON keeps every key other than type and password_required as a warning.
func (c *ConversionSummary) UnmarshalJSON(data []byte) error {
	var raw Value
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	if raw.Kind() != KindObject {
		return fmt.Errorf("conversion_summary: expected object, got %s", raw.Kind())
	}
	c.PasswordRequired = nil
	c.Warnings = NewRecord()
	for _, key := range raw.Record().Keys() {
		val, _ := raw.Record().Get(key)
		switch key {
		case "type":
		case "password_required":
			for _, item := range val.Items() {
				if item.Kind() == KindString {
					c.PasswordRequired = append(c.PasswordRequired, item.StringValue())
				}
			}
		default:
			c.Warnings.Set(key, val)
		}
	}
	return nil
}

// MarshalJSON flattens warnings next to password_required.
func (c ConversionSummary) MarshalJSON() ([]byte, error) {
	rec := NewRecord()
	if len(c.PasswordRequired) > 0 {
		rec.Set("password_required", FromInterface(c.PasswordRequired))
	}
	for _, key := range c.Warnings.Keys() {
		val, _ := c.Warnings.Get(key)
		rec.Set(key, val)
	}
	return rec.MarshalJSON()
}

// CompleteEvent is the terminal event with run totals.
type CompleteEvent struct {
	ModelUsed   string `json:"model_used"`
	AIModelUsed string `json:"ai_model_used"`
	TotalFiles  int    `json:"total_files"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
}

// ErrorEvent reports a backend-level failure that ends the run.
type ErrorEvent struct {
	Message   string `json:"message"`
	ErrorType string `json:"error_type,omitempty"`
}

// UnmarshalJSON decodes a frame by its type discriminator.
func (e *ProtocolEvent) UnmarshalJSON(data []byte) error {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	out := ProtocolEvent{Type: head.Type}
	var target any
	switch head.Type {
	case EventInit:
		out.Init = &InitEvent{}
		target = out.Init
	case EventProgress:
		out.Progress = &ProgressEvent{}
		target = out.Progress
	case EventResult:
		out.Result = &ResultEvent{}
		target = out.Result
	case EventConversionSummary:
		out.Conversion = &ConversionSummary{}
		target = out.Conversion
	case EventComplete:
		out.Complete = &CompleteEvent{}
		target = out.Complete
	case EventError:
		out.Error = &ErrorEvent{}
		target = out.Error
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding %s event: %w", head.Type, err)
	}
	*e = out
	return nil
}

// MarshalJSON writes the payload with its type discriminator first.
func (e ProtocolEvent) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case EventInit:
		payload = e.Init
	case EventProgress:
		payload = e.Progress
	case EventResult:
		payload = e.Result
	case EventConversionSummary:
		payload = e.Conversion
	case EventComplete:
		payload = e.Complete
	case EventError:
		payload = e.Error
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(string(e.Type))
	if err != nil {
		return nil, err
	}
	out := append([]byte(`{"type":`), typ...)
	if len(body) <= 2 || body[0] != '{' {
		return append(out, '}'), nil
	}
	out = append(out, ',')
	return append(out, body[1:]...), nil
}
