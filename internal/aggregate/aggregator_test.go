package aggregate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/doc-extract/backend/internal/models"
)

func initEvent(fields ...string) models.ProtocolEvent {
	return models.ProtocolEvent{Type: models.EventInit, Init: &models.InitEvent{
		ModelFields: fields, ModelKey: "invoice", ModelName: "Invoice", AIModel: "m1", TotalFiles: 3,
	}}
}

func progressEvent(current, total int) models.ProtocolEvent {
	return models.ProtocolEvent{Type: models.EventProgress, Progress: &models.ProgressEvent{Current: current, Total: total}}
}

func successEvent(name string, pairs ...any) models.ProtocolEvent {
	return models.ProtocolEvent{Type: models.EventResult, Result: &models.ResultEvent{
		Filename:       name,
		Status:         models.ResultSuccess,
		StructuredData: models.Object(models.RecordOf(pairs...)),
	}}
}

func errorEvent(name, errorType string) models.ProtocolEvent {
	return models.ProtocolEvent{Type: models.EventResult, Result: &models.ResultEvent{
		Filename: name, Status: models.ResultError, Error: "failed", ErrorType: errorType,
	}}
}

func completeEvent(successful, failed int) models.ProtocolEvent {
	return models.ProtocolEvent{Type: models.EventComplete, Complete: &models.CompleteEvent{
		ModelUsed: "invoice", TotalFiles: successful + failed, Successful: successful, Failed: failed,
	}}
}

func ingestAll(t *testing.T, a *Aggregator, events ...models.ProtocolEvent) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, a.Ingest(ev))
	}
}

func anomalyKinds(a *Aggregator) []models.AnomalyKind {
	var kinds []models.AnomalyKind
	for _, an := range a.Anomalies() {
		kinds = append(kinds, an.Kind)
	}
	return kinds
}

func TestAggregator_CompleteCountsMatchIngested(t *testing.T) {
	a := New(zaptest.NewLogger(t))
	ingestAll(t, a,
		initEvent("title"),
		successEvent("a.pdf", "title", models.String("A")),
		errorEvent("b.pdf", "timeout"),
		successEvent("c.pdf", "title", models.String("C")),
		completeEvent(2, 1),
	)

	assert.Equal(t, models.RunComplete, a.State())
	sum := a.Summary()
	require.NotNil(t, sum)
	assert.True(t, sum.Consistent)
	assert.Equal(t, 2, sum.Successful)
	assert.Equal(t, 1, sum.Failed)
	assert.Empty(t, a.Anomalies())
}

func TestAggregator_CountMismatchIsReported(t *testing.T) {
	a := New(nil)
	ingestAll(t, a,
		successEvent("a.pdf", "title", models.String("A")),
		completeEvent(2, 0),
	)

	assert.Equal(t, models.RunComplete, a.State())
	assert.False(t, a.Summary().Consistent)
	assert.Equal(t, 1, a.Summary().Successful)
	assert.Equal(t, 2, a.Summary().ReportedSuccessful)
	assert.Equal(t, []models.AnomalyKind{models.AnomalyCountMismatch}, anomalyKinds(a))
}

func TestAggregator_ProgressRegression(t *testing.T) {
	a := New(nil)
	ingestAll(t, a, progressEvent(3, 5), progressEvent(2, 5))

	assert.Equal(t, 3, a.Progress().Current)
	assert.Equal(t, 5, a.Progress().Total)
	assert.Equal(t, []models.AnomalyKind{models.AnomalyProgressRegression}, anomalyKinds(a))

	ingestAll(t, a, progressEvent(4, 5))
	assert.Equal(t, 4, a.Progress().Current)
}

func TestAggregator_EmbeddedProgress(t *testing.T) {
	a := New(nil)
	ev := successEvent("a.pdf", "title", models.String("A"))
	ev.Result.Progress = &models.ProgressEvent{Current: 1, Total: 2, Successful: 1}
	ingestAll(t, a, ev)

	assert.Equal(t, models.Progress{Current: 1, Total: 2, Successful: 1}, a.Progress())
}

func TestAggregator_Init(t *testing.T) {
	t.Run("identical repeat is a no-op", func(t *testing.T) {
		a := New(nil)
		ingestAll(t, a, initEvent("title", "total"), initEvent("title", "total"))
		assert.Equal(t, []string{"title", "total"}, a.Fields())
		assert.Empty(t, a.Anomalies())
		assert.Equal(t, 3, a.Progress().Total)
	})

	t.Run("conflicting repeat keeps the first", func(t *testing.T) {
		a := New(nil)
		require.NoError(t, a.Ingest(initEvent("title")))
		err := a.Ingest(initEvent("other"))
		assert.ErrorIs(t, err, ErrConflictingInit)
		assert.Equal(t, []string{"title"}, a.Fields())
		assert.Equal(t, []models.AnomalyKind{models.AnomalyConflictingInit}, anomalyKinds(a))
	})

	t.Run("init after results is reported", func(t *testing.T) {
		a := New(nil)
		ingestAll(t, a,
			successEvent("a.pdf", "title", models.String("A")),
			initEvent("title"),
		)
		assert.Equal(t, []string{"title"}, a.Fields())
		assert.Equal(t, []models.AnomalyKind{models.AnomalyLateInit}, anomalyKinds(a))
	})
}

func TestAggregator_DuplicateResults(t *testing.T) {
	a := New(nil)
	partial := successEvent("a.pdf", "title", models.String("A2"))
	partial.Result.Partial = true
	ingestAll(t, a,
		successEvent("a.pdf", "title", models.String("A1")),
		partial,
		successEvent("a.pdf", "title", models.String("A3")),
	)

	view := a.CurrentView()
	require.Len(t, view, 3)
	assert.Equal(t, []string{"a.pdf", "a.pdf#2", "a.pdf#3"}, []string{view[0].ID, view[1].ID, view[2].ID})
	assert.Equal(t, []int{0, 1, 2}, []int{view[0].Seq, view[1].Seq, view[2].Seq})
	// The partial follow-up is expected; the third is not.
	assert.Equal(t, []models.AnomalyKind{models.AnomalyDuplicateResult}, anomalyKinds(a))
}

func TestAggregator_ErrorResultsAreClassified(t *testing.T) {
	a := New(nil)
	ingestAll(t, a, errorEvent("a.pdf", "password_protected"), errorEvent("b.pdf", ""))

	view := a.CurrentView()
	require.Len(t, view, 2)
	assert.Equal(t, models.ErrorTypePasswordProtected, view[0].ErrorType)
	assert.Equal(t, models.ErrorTypeGeneric, view[1].ErrorType)
	assert.False(t, view[0].HasRecords())
	assert.Equal(t, 2, a.Progress().Failed)
}

func TestAggregator_Frozen(t *testing.T) {
	a := New(nil)
	ingestAll(t, a, completeEvent(0, 0))

	err := a.Ingest(successEvent("late.pdf", "title", models.String("x")))
	assert.ErrorIs(t, err, ErrFrozen)
	assert.Zero(t, a.Len())
	assert.Equal(t, []models.AnomalyKind{models.AnomalyEventAfterFreeze}, anomalyKinds(a))
}

func TestAggregator_ErrorEventFailsRun(t *testing.T) {
	a := New(nil)
	ingestAll(t, a,
		successEvent("a.pdf", "title", models.String("A")),
		models.ProtocolEvent{Type: models.EventError, Error: &models.ErrorEvent{Message: "model unavailable"}},
	)

	assert.Equal(t, models.RunFailed, a.State())
	assert.Equal(t, "model unavailable", a.Failure())
	assert.Equal(t, 1, a.Len())
}

func TestAggregator_FailKeepsPartialResults(t *testing.T) {
	a := New(nil)
	ingestAll(t, a, successEvent("a.pdf", "title", models.String("A")))

	a.Fail(errors.New("connection reset"))
	assert.Equal(t, models.RunFailed, a.State())
	assert.Equal(t, "connection reset", a.Failure())
	assert.Equal(t, 1, a.Len())

	// Terminal state does not change again.
	a.Cancel()
	assert.Equal(t, models.RunFailed, a.State())
}

func TestAggregator_Finish(t *testing.T) {
	a := New(nil)
	a.Finish()
	assert.Equal(t, models.RunFailed, a.State())
	assert.Equal(t, "stream ended without completion", a.Failure())
}

func TestAggregator_CurrentViewIsACopy(t *testing.T) {
	a := New(nil)
	ingestAll(t, a, successEvent("a.pdf", "title", models.String("A")))

	view := a.CurrentView()
	view[0].Filename = "mutated"
	assert.Equal(t, "a.pdf", a.CurrentView()[0].Filename)
}

func TestAggregator_RecordsAndWarnings(t *testing.T) {
	a := New(nil)
	multi := models.ProtocolEvent{Type: models.EventResult, Result: &models.ResultEvent{
		Filename: "b.pdf",
		Status:   models.ResultSuccess,
		StructuredData: models.Array(
			models.Object(models.RecordOf("title", models.String("B1"))),
			models.Object(models.RecordOf("title", models.String("B2"))),
		),
	}}
	conv := models.ProtocolEvent{Type: models.EventConversionSummary, Conversion: &models.ConversionSummary{
		PasswordRequired: []string{"c.pdf", "c.pdf"},
		Warnings:         models.RecordOf("skipped", models.Number(1)),
	}}
	ingestAll(t, a, successEvent("a.pdf", "title", models.String("A")), multi, errorEvent("c.pdf", "password"), conv)

	assert.Len(t, a.Records(), 3)
	pw, warnings := a.Warnings()
	assert.Equal(t, []string{"c.pdf"}, pw)
	skipped, ok := warnings.Get("skipped")
	require.True(t, ok)
	assert.Equal(t, float64(1), skipped.NumberValue())
}

func TestFromResults(t *testing.T) {
	results := []models.FileResult{
		{ID: "a.pdf", Filename: "a.pdf", Status: models.ResultSuccess, Data: models.Object(models.RecordOf("title", models.String("A")))},
		{ID: "b.pdf", Filename: "b.pdf", Status: models.ResultError, ErrorType: models.ErrorTypeTimeout},
	}
	init := &models.InitEvent{ModelFields: []string{"title"}, ModelKey: "invoice", TotalFiles: 2}

	a := FromResults(init, results, models.RunFailed, nil)
	assert.Equal(t, models.RunFailed, a.State())
	assert.Equal(t, []string{"title"}, a.Fields())
	assert.Equal(t, models.Progress{Current: 2, Total: 2, Successful: 1, Failed: 1}, a.Progress())
	assert.Len(t, a.Records(), 1)
	assert.ErrorIs(t, a.Ingest(progressEvent(3, 3)), ErrFrozen)

	r, ok := a.Result("b.pdf")
	require.True(t, ok)
	assert.Equal(t, 1, r.Seq)
}
