// Package aggregate reconciles decoded protocol events into the authoritative
// result set of one extraction run.
package aggregate

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/models"
)

var (
	// ErrConflictingInit is returned when a second init disagrees with the first.
	ErrConflictingInit = errors.New("conflicting init event")
	// ErrFrozen is returned for events that arrive after the run ended.
	ErrFrozen = errors.New("run is frozen")
)

// errIncomplete finalizes a stream that ended without a complete event.
var errIncomplete = errors.New("stream ended without completion")

// Aggregator holds the results of one run. It is not safe for concurrent use;
// callers apply events one at a time.
type Aggregator struct {
	state     models.RunState
	init      *models.InitEvent
	results   []models.FileResult
	attempts  map[string]int
	progress  models.Progress
	counted   models.Progress
	anomalies []models.Anomaly
	summary   *models.RunSummary
	failure   string

	passwordRequired []string
	warnings         *models.Record

	now func() time.Time
	log *zap.Logger
}

// New creates an empty aggregator in the streaming state.
func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		state:    models.RunStreaming,
		attempts: make(map[string]int),
		warnings: models.NewRecord(),
		now:      time.Now,
		log:      logger,
	}
}

// FromResults rebuilds a frozen aggregator from results that were persisted
// after their run ended.
func FromResults(init *models.InitEvent, results []models.FileResult, state models.RunState, logger *zap.Logger) *Aggregator {
	a := New(logger)
	if init != nil {
		_ = a.ingestInit(init)
	}
	for _, r := range results {
		r.Seq = len(a.results)
		a.attempts[r.Filename]++
		if r.Status == models.ResultSuccess {
			a.counted.Successful++
		} else {
			a.counted.Failed++
		}
		a.results = append(a.results, r)
	}
	a.progress.Current = len(a.results)
	a.progress.Successful = a.counted.Successful
	a.progress.Failed = a.counted.Failed
	if a.progress.Total < a.progress.Current {
		a.progress.Total = a.progress.Current
	}
	if !state.Terminal() {
		state = models.RunComplete
	}
	a.state = state
	a.summary = &models.RunSummary{
		TotalFiles: a.progress.Total,
		Successful: a.counted.Successful,
		Failed:     a.counted.Failed,
		Consistent: true,
	}
	return a
}

// Ingest applies one event.
func (a *Aggregator) Ingest(ev models.ProtocolEvent) error {
	if a.state.Terminal() {
		a.report(models.AnomalyEventAfterFreeze, fmt.Sprintf("%s event after run ended", ev.Type))
		return ErrFrozen
	}

	switch ev.Type {
	case models.EventInit:
		return a.ingestInit(ev.Init)
	case models.EventProgress:
		a.applyProgress(ev.Progress, false)
	case models.EventResult:
		a.ingestResult(ev.Result)
	case models.EventConversionSummary:
		a.ingestConversion(ev.Conversion)
	case models.EventComplete:
		a.ingestComplete(ev.Complete)
	case models.EventError:
		msg := "extraction backend reported an error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		a.Fail(errors.New(msg))
	default:
		return fmt.Errorf("%w: %q", models.ErrUnknownEventType, ev.Type)
	}
	return nil
}

func (a *Aggregator) ingestInit(ev *models.InitEvent) error {
	if ev == nil {
		return nil
	}
	if a.init == nil {
		if len(a.results) > 0 {
			a.report(models.AnomalyLateInit,
				fmt.Sprintf("init arrived after %d result(s)", len(a.results)))
		}
		copied := *ev
		copied.ModelFields = append([]string(nil), ev.ModelFields...)
		a.init = &copied
		if ev.TotalFiles > 0 && a.progress.Total == 0 {
			a.progress.Total = ev.TotalFiles
		}
		return nil
	}
	if a.init.Equal(ev) {
		return nil
	}
	a.report(models.AnomalyConflictingInit,
		fmt.Sprintf("init for model %q conflicts with %q", ev.ModelKey, a.init.ModelKey))
	return ErrConflictingInit
}

func (a *Aggregator) ingestResult(ev *models.ResultEvent) {
	if ev == nil {
		return
	}
	a.attempts[ev.Filename]++
	attempt := a.attempts[ev.Filename]

	id := ev.Filename
	if attempt > 1 {
		id = fmt.Sprintf("%s#%d", ev.Filename, attempt)
		if !ev.Partial {
			a.report(models.AnomalyDuplicateResult,
				fmt.Sprintf("result for %q received %d times", ev.Filename, attempt))
		}
	}

	res := models.FileResult{
		ID:             id,
		Seq:            len(a.results),
		Filename:       ev.Filename,
		Status:         models.ResultSuccess,
		Data:           ev.StructuredData,
		Markdown:       ev.MarkdownContent,
		ProcessingTime: ev.ProcessingTime,
		Attempt:        attempt,
		Partial:        ev.Partial,
		ReceivedAt:     a.now(),
	}
	if ev.Status != models.ResultSuccess {
		res.Status = models.ResultError
		res.Error = ev.Error
		res.ErrorType = ClassifyError(ev.ErrorType)
		a.counted.Failed++
	} else {
		a.counted.Successful++
	}
	a.results = append(a.results, res)
	resultsIngested.WithLabelValues(string(res.Status), string(res.ErrorType)).Inc()

	if ev.Progress != nil {
		a.applyProgress(ev.Progress, true)
	} else {
		a.progress.Successful = a.counted.Successful
		a.progress.Failed = a.counted.Failed
	}
}

// applyProgress keeps current monotonic; a regression is reported and the
// displayed value is left as is.
func (a *Aggregator) applyProgress(p *models.ProgressEvent, embedded bool) {
	if p == nil {
		return
	}
	if p.Current < a.progress.Current {
		a.report(models.AnomalyProgressRegression,
			fmt.Sprintf("progress went from %d to %d", a.progress.Current, p.Current))
	} else {
		a.progress.Current = p.Current
	}
	if p.Total > 0 {
		a.progress.Total = p.Total
	}
	if embedded {
		a.progress.Successful = max(p.Successful, a.progress.Successful)
		a.progress.Failed = max(p.Failed, a.progress.Failed)
	}
}

func (a *Aggregator) ingestConversion(ev *models.ConversionSummary) {
	if ev == nil {
		return
	}
	for _, name := range ev.PasswordRequired {
		if !slices.Contains(a.passwordRequired, name) {
			a.passwordRequired = append(a.passwordRequired, name)
		}
	}
	for _, key := range ev.Warnings.Keys() {
		val, _ := ev.Warnings.Get(key)
		a.warnings.Set(key, val)
	}
}

func (a *Aggregator) ingestComplete(ev *models.CompleteEvent) {
	sum := &models.RunSummary{
		Successful: a.counted.Successful,
		Failed:     a.counted.Failed,
		TotalFiles: len(a.results),
		Consistent: true,
	}
	if ev != nil {
		sum.ModelUsed = ev.ModelUsed
		sum.AIModelUsed = ev.AIModelUsed
		sum.TotalFiles = ev.TotalFiles
		sum.ReportedSuccessful = ev.Successful
		sum.ReportedFailed = ev.Failed
		if ev.Successful != sum.Successful || ev.Failed != sum.Failed {
			sum.Consistent = false
			a.report(models.AnomalyCountMismatch, fmt.Sprintf(
				"complete reported %d successful / %d failed, ingested %d / %d",
				ev.Successful, ev.Failed, sum.Successful, sum.Failed))
		}
	}
	a.summary = sum
	a.state = models.RunComplete
}

// Fail ends a streaming run as failed. Results received so far are kept.
func (a *Aggregator) Fail(err error) {
	if a.state.Terminal() {
		return
	}
	if err == nil {
		err = errIncomplete
	}
	a.failure = err.Error()
	a.state = models.RunFailed
	a.summary = &models.RunSummary{
		Successful: a.counted.Successful,
		Failed:     a.counted.Failed,
		TotalFiles: len(a.results),
		Consistent: true,
	}
	a.log.Warn("run failed", zap.Error(err), zap.Int("results", len(a.results)))
}

// Finish ends a stream that closed without a complete event.
func (a *Aggregator) Finish() {
	a.Fail(errIncomplete)
}

// Cancel ends a streaming run at the consumer's request.
func (a *Aggregator) Cancel() {
	if a.state.Terminal() {
		return
	}
	a.state = models.RunCancelled
	a.summary = &models.RunSummary{
		Successful: a.counted.Successful,
		Failed:     a.counted.Failed,
		TotalFiles: len(a.results),
		Consistent: true,
	}
}

func (a *Aggregator) report(kind models.AnomalyKind, msg string) {
	a.anomalies = append(a.anomalies, models.Anomaly{Kind: kind, Message: msg, At: a.now()})
	anomaliesReported.WithLabelValues(string(kind)).Inc()
	a.log.Warn("protocol anomaly", zap.String("kind", string(kind)), zap.String("message", msg))
}

// CurrentView returns the results observed so far, in arrival order.
func (a *Aggregator) CurrentView() []models.FileResult {
	out := make([]models.FileResult, len(a.results))
	copy(out, a.results)
	return out
}

// Result looks up a result by id.
func (a *Aggregator) Result(id string) (models.FileResult, bool) {
	for _, r := range a.results {
		if r.ID == id {
			return r, true
		}
	}
	return models.FileResult{}, false
}

// Len returns the number of results ingested.
func (a *Aggregator) Len() int { return len(a.results) }

// Records returns every record of every successful result, in arrival order.
func (a *Aggregator) Records() []*models.Record {
	var out []*models.Record
	for _, r := range a.results {
		if r.Status == models.ResultSuccess {
			out = append(out, r.Records()...)
		}
	}
	return out
}

func (a *Aggregator) Progress() models.Progress { return a.progress }
func (a *Aggregator) State() models.RunState    { return a.state }
func (a *Aggregator) Failure() string           { return a.failure }

// Summary returns the final counts, or nil while the run is streaming.
func (a *Aggregator) Summary() *models.RunSummary {
	if a.summary == nil {
		return nil
	}
	s := *a.summary
	return &s
}

func (a *Aggregator) Anomalies() []models.Anomaly {
	return append([]models.Anomaly(nil), a.anomalies...)
}

// Model returns the init event, or nil if none arrived.
func (a *Aggregator) Model() *models.InitEvent {
	if a.init == nil {
		return nil
	}
	m := *a.init
	m.ModelFields = append([]string(nil), a.init.ModelFields...)
	return &m
}

// Fields returns the ordered field list announced by init.
func (a *Aggregator) Fields() []string {
	if a.init == nil {
		return nil
	}
	return append([]string(nil), a.init.ModelFields...)
}

// Warnings returns password-protected file names and other conversion warnings.
func (a *Aggregator) Warnings() ([]string, *models.Record) {
	return append([]string(nil), a.passwordRequired...), a.warnings.Clone()
}
