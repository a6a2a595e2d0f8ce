package models

import "time"

// RunState represents the status of an extraction run.
type RunState string

const (
	RunStreaming RunState = "streaming"
	RunComplete  RunState = "complete"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether no further events will be applied.
func (s RunState) Terminal() bool {
	return s == RunComplete || s == RunFailed || s == RunCancelled
}

// Progress holds the run-level counters shown while a run streams.
type Progress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// AnomalyKind names a protocol inconsistency that was reported but not fatal.
type AnomalyKind string

const (
	AnomalyProgressRegression AnomalyKind = "progress_regression"
	AnomalyCountMismatch      AnomalyKind = "count_mismatch"
	AnomalyDuplicateResult    AnomalyKind = "duplicate_result"
	AnomalyConflictingInit    AnomalyKind = "conflicting_init"
	AnomalyLateInit           AnomalyKind = "late_init"
	AnomalyEventAfterFreeze   AnomalyKind = "event_after_freeze"
)

// Anomaly is one reported protocol inconsistency.
type Anomaly struct {
	Kind    AnomalyKind `json:"kind"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// RunSummary holds final counts once a run is frozen.
type RunSummary struct {
	ModelUsed          string `json:"model_used,omitempty"`
	AIModelUsed        string `json:"ai_model_used,omitempty"`
	TotalFiles         int    `json:"total_files"`
	Successful         int    `json:"successful"`
	Failed             int    `json:"failed"`
	ReportedSuccessful int    `json:"reported_successful"`
	ReportedFailed     int    `json:"reported_failed"`
	Consistent         bool   `json:"consistent"`
}

// RunInfo is the externally visible state of an extraction run.
type RunInfo struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"sessionId"`
	FileIDs          []string   `json:"fileIds"`
	Status           RunState   `json:"status"`
	ModelKey         string     `json:"modelKey,omitempty"`
	AIModel          string     `json:"aiModel,omitempty"`
	Progress         Progress   `json:"progress"`
	ResultCount      int        `json:"resultCount"`
	ProcessingTimeMs int64      `json:"processingTimeMs,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	Error            string     `json:"error,omitempty"`
}
