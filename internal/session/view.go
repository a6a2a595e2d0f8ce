package session

import (
	"context"

	"github.com/doc-extract/backend/internal/aggregate"
	"github.com/doc-extract/backend/internal/ledger"
	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/review"
	"github.com/doc-extract/backend/internal/schema"
	"github.com/doc-extract/backend/internal/sorting"
)

// View is the presentation of a run: its rows with edits applied, in the
// requested order, plus the schema analysis that picks the layout.
type View struct {
	Run              models.RunInfo          `json:"run"`
	Model            *models.InitEvent       `json:"model,omitempty"`
	Fields           []string                `json:"fields"`
	Schema           models.SchemaComplexity `json:"schema"`
	Sort             sorting.State           `json:"sort"`
	Rows             []ViewRow               `json:"rows"`
	Summary          *models.RunSummary      `json:"summary,omitempty"`
	Anomalies        []models.Anomaly        `json:"anomalies"`
	PasswordRequired []string                `json:"passwordRequired,omitempty"`
	Warnings         *models.Record          `json:"warnings,omitempty"`
}

// ViewRow is one record of one file result. Failed extractions appear as a
// single row without data.
type ViewRow struct {
	FileID       string              `json:"fileId"`
	Filename     string              `json:"filename"`
	RecordIndex  int                 `json:"recordIndex"`
	Status       models.ResultStatus `json:"status"`
	ErrorType    models.ErrorType    `json:"errorType,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	Review       models.ReviewStatus `json:"reviewStatus,omitempty"`
	Edited       bool                `json:"edited,omitempty"`
	Data         *models.Record      `json:"data,omitempty"`
	Cells        map[string]string   `json:"cells"`
}

// View returns the run's rows sorted by column and direction. An empty column
// uses the run's current sort state.
func (m *Manager) View(ctx context.Context, id, column string, dir sorting.Direction) (View, error) {
	run, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()

	state := run.sortState
	if column != "" {
		state = sorting.State{Column: column, Direction: dir}
	}
	return m.viewLocked(run, state), nil
}

// Click toggles the sort state of column the way a header click does and
// returns the resulting view.
func (m *Manager) Click(ctx context.Context, id, column string) (View, error) {
	run, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()

	run.sortState = run.sortState.Click(column)
	return m.viewLocked(run, run.sortState), nil
}

// Schema returns the schema analysis of the run's effective records.
func (m *Manager) Schema(ctx context.Context, id string) (models.SchemaComplexity, error) {
	run, err := m.lookup(ctx, id)
	if err != nil {
		return models.SchemaComplexity{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return m.analyze(run), nil
}

func (m *Manager) viewLocked(run *Run, state sorting.State) View {
	rows, sortRows := m.rows(run)
	ordered := run.sorter.Sort(sortRows, state.Column, state.Direction)
	out := make([]ViewRow, len(ordered))
	for i, r := range ordered {
		out[i] = rows[r.Ref]
	}

	password, warnings := run.agg.Warnings()
	if warnings.Len() == 0 {
		warnings = nil
	}
	return View{
		Run:              run.infoLocked(),
		Model:            run.agg.Model(),
		Fields:           run.agg.Fields(),
		Schema:           m.analyze(run),
		Sort:             state,
		Rows:             out,
		Summary:          run.agg.Summary(),
		Anomalies:        run.agg.Anomalies(),
		PasswordRequired: password,
		Warnings:         warnings,
	}
}

// rows builds one row per record, in arrival order, with ledger edits
// applied to both the data and the display cells.
func (m *Manager) rows(run *Run) (map[models.RecordRef]ViewRow, []sorting.Row) {
	results := run.agg.CurrentView()
	byRef := make(map[models.RecordRef]ViewRow, len(results))
	order := make([]sorting.Row, 0, len(results))

	for _, res := range results {
		base := ViewRow{
			FileID:   res.ID,
			Filename: res.Filename,
			Status:   res.Status,
		}
		if res.Status == models.ResultError {
			base.ErrorType = res.ErrorType
			base.ErrorMessage = aggregate.UserMessage(res.ErrorType)
		}
		if run.review != nil {
			if f, err := run.review.File(res.ID); err == nil {
				base.Review = f.Status
			}
		}

		records := res.Records()
		if len(records) == 0 {
			ref := models.RecordRef{FileID: res.ID}
			row := base
			row.Cells = map[string]string{"filename": res.Filename}
			byRef[ref] = row
			order = append(order, sorting.Row{Ref: ref, Cells: row.Cells})
			continue
		}
		for i, rec := range records {
			ref := models.RecordRef{FileID: res.ID, Index: i}
			row := base
			row.RecordIndex = i
			row.Data = run.ledger.EffectiveRecord(ref, rec)
			row.Edited = hasEdits(run.ledger, ref)
			row.Cells = cells(row.Data, res.Filename)
			byRef[ref] = row
			order = append(order, sorting.Row{Ref: ref, Cells: row.Cells})
		}
	}
	return byRef, order
}

func cells(rec *models.Record, filename string) map[string]string {
	out := make(map[string]string, rec.Len()+1)
	out["filename"] = filename
	for _, key := range rec.Keys() {
		v, _ := rec.Get(key)
		out[key] = v.Display()
	}
	return out
}

func hasEdits(l *ledger.Ledger, ref models.RecordRef) bool {
	for _, e := range l.Edits(ref.FileID) {
		if e.Index() == ref.Index {
			return true
		}
	}
	return false
}

// analyze runs the schema analysis over every successful record with edits
// applied. Results are cached per run, result count and ledger version.
func (m *Manager) analyze(run *Run) models.SchemaComplexity {
	return m.analyzeCached(run, false)
}

// analyzeExtracted analyses the records as extracted, ignoring edits. Edit
// validation uses it so a stored edit never changes the rules it is checked
// against.
func (m *Manager) analyzeExtracted(run *Run) models.SchemaComplexity {
	return m.analyzeCached(run, true)
}

func (m *Manager) analyzeCached(run *Run, extracted bool) models.SchemaComplexity {
	key := schemaKey{runID: run.id, gen: run.gen, results: run.agg.Len(), extracted: extracted}
	if !extracted {
		key.edits = run.ledger.Version()
	}
	if sc, ok := m.schemas.Get(key); ok {
		return sc
	}

	var sample []*models.Record
	for _, res := range run.agg.CurrentView() {
		if res.Status != models.ResultSuccess {
			continue
		}
		for i, rec := range res.Records() {
			if !extracted {
				rec = run.ledger.EffectiveRecord(models.RecordRef{FileID: res.ID, Index: i}, rec)
			}
			sample = append(sample, rec)
		}
	}
	sc := schema.Analyze(sample, m.hintsFor(run))
	m.schemas.Add(key, sc)
	return sc
}

func (m *Manager) hintsFor(run *Run) *schema.Hints {
	modelKey := run.info.ModelKey
	if model := run.agg.Model(); model != nil && model.ModelKey != "" {
		modelKey = model.ModelKey
	}
	return m.hints.For(modelKey)
}

// newReview creates the review session of a finished run, sharing the run's
// ledger.
func (m *Manager) newReview(run *Run) *review.Store {
	meta := models.BatchMetadata{
		RunID:    run.id,
		ModelKey: run.info.ModelKey,
		AIModel:  run.info.AIModel,
		RunState: run.agg.State(),
	}
	if model := run.agg.Model(); model != nil {
		if model.ModelKey != "" {
			meta.ModelKey = model.ModelKey
		}
		if model.AIModel != "" {
			meta.AIModel = model.AIModel
		}
		meta.ModelName = model.ModelName
		meta.Fields = model.ModelFields
		meta.TotalFiles = model.TotalFiles
	}
	if sum := run.agg.Summary(); sum != nil {
		meta.Successful = sum.Successful
		meta.Failed = sum.Failed
		if sum.TotalFiles > meta.TotalFiles {
			meta.TotalFiles = sum.TotalFiles
		}
	}
	meta.PasswordRequired, _ = run.agg.Warnings()

	meta.View = m.analyze(run).View

	store := review.NewStore(run.id, run.agg.CurrentView(), meta, run.ledger)
	store.SetSchema(m.analyzeExtracted(run), m.hintsFor(run))
	return store
}
