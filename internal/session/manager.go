// Package session owns extraction runs: it drives the stream of one run into
// its aggregator, serves views and schema analysis over the results, and
// hosts the review session created when the run ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/aggregate"
	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/schema"
	"github.com/doc-extract/backend/internal/storage"
	"github.com/doc-extract/backend/internal/stream"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultMaxRuns          = 10
	DefaultMaxAge           = 30 * time.Minute
	DefaultKeepAlive        = 5 * time.Minute
	DefaultCacheSize        = 128
	DefaultCacheTTL         = 10 * time.Minute
	DefaultSubscriberBuffer = 64

	persistTimeout = 10 * time.Second
)

var (
	ErrRunNotFound      = errors.New("run not found")
	ErrRunNotFinished   = errors.New("run has not finished")
	ErrNoFiles          = errors.New("no files given")
	ErrDocumentNotFound = errors.New("document not found")
)

// Extractor opens an extraction stream for a batch of documents.
type Extractor interface {
	Extract(ctx context.Context, req stream.ExtractRequest) (*stream.Stream, error)
}

// DocumentSource resolves uploaded documents.
type DocumentSource interface {
	Get(id string) (*models.FileInfo, error)
	Open(id string) (io.ReadCloser, error)
	SetStatus(id, status string) error
}

// Persister stores review sessions. Load reports storage.ErrSessionNotFound
// for unknown ids.
type Persister interface {
	Save(ctx context.Context, sess *models.ReviewSession) error
	Load(ctx context.Context, id string) (*models.ReviewSession, error)
	List(ctx context.Context) ([]models.ReviewSummary, error)
}

// Config tunes run retention and the shared caches.
type Config struct {
	MaxRuns          int
	MaxAge           time.Duration
	KeepAlive        time.Duration
	Locale           string
	ModelKey         string
	AIModel          string
	CacheSize        int
	CacheTTL         time.Duration
	SubscriberBuffer int
}

func (c Config) withDefaults() Config {
	if c.MaxRuns <= 0 {
		c.MaxRuns = DefaultMaxRuns
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.Locale == "" {
		c.Locale = "en"
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return c
}

// Deps are the collaborators of a Manager. Persister and Hints are optional.
type Deps struct {
	Extractor Extractor
	Documents DocumentSource
	Persister Persister
	Hints     *schema.HintSet
	Logger    *zap.Logger
}

// schemaKey identifies one analysis. gen separates a restored run from an
// earlier incarnation with the same id; extracted marks analyses of the
// unedited records.
type schemaKey struct {
	runID     string
	gen       uint64
	results   int
	edits     uint64
	extracted bool
}

// Manager handles active extraction runs and their review sessions.
type Manager struct {
	cfg       Config
	runs      map[string]*Run
	mu        sync.RWMutex
	extractor Extractor
	docs      DocumentSource
	persister Persister
	hints     *schema.HintSet
	schemas   *expirable.LRU[schemaKey, models.SchemaComplexity]
	gen       atomic.Uint64
	log       *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewManager creates a run manager.
func NewManager(cfg Config, deps Deps) *Manager {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		runs:      make(map[string]*Run),
		extractor: deps.Extractor,
		docs:      deps.Documents,
		persister: deps.Persister,
		hints:     deps.Hints,
		schemas:   expirable.NewLRU[schemaKey, models.SchemaComplexity](cfg.CacheSize, nil, cfg.CacheTTL),
		log:       logger.Named("session"),
		baseCtx:   ctx,
		stop:      stop,
		now:       time.Now,
	}
}

// StartRun validates the documents and starts streaming their extraction in
// the background. Empty model arguments fall back to the configured defaults.
func (m *Manager) StartRun(fileIDs []string, modelKey, aiModel string) (models.RunInfo, error) {
	if len(fileIDs) == 0 {
		return models.RunInfo{}, ErrNoFiles
	}
	if modelKey == "" {
		modelKey = m.cfg.ModelKey
	}
	if aiModel == "" {
		aiModel = m.cfg.AIModel
	}

	docs := make([]stream.Document, 0, len(fileIDs))
	for _, id := range fileIDs {
		info, err := m.docs.Get(id)
		if err != nil {
			return models.RunInfo{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		docs = append(docs, stream.Document{
			Name: info.Name,
			Open: func() (io.ReadCloser, error) { return m.docs.Open(id) },
		})
	}

	m.cleanupIfNeeded()

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(m.baseCtx)
	run := newRun(id, aggregate.New(m.log.With(zap.String("run", short(id)))), m.cfg.Locale)
	run.cancel = cancel
	run.gen = m.gen.Add(1)
	run.info = models.RunInfo{
		ID:        id,
		SessionID: id,
		FileIDs:   append([]string(nil), fileIDs...),
		Status:    models.RunStreaming,
		ModelKey:  modelKey,
		AIModel:   aiModel,
		StartedAt: m.now(),
	}

	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	for _, fid := range fileIDs {
		m.setDocumentStatus(fid, models.FileStatusExtracting)
	}

	req := stream.ExtractRequest{Documents: docs, ModelKey: modelKey, AIModel: aiModel}
	m.wg.Add(1)
	go m.consume(ctx, run, req)

	m.log.Info("run started",
		zap.String("run", id),
		zap.Int("files", len(fileIDs)),
		zap.String("model_key", modelKey))
	return run.Info(), nil
}

// consume reads the run's stream until it ends, applying each event as a
// whole under the run lock.
func (m *Manager) consume(ctx context.Context, run *Run, req stream.ExtractRequest) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("run panicked", zap.String("run", run.id), zap.Any("panic", r))
			run.mu.Lock()
			run.agg.Fail(fmt.Errorf("run panicked: %v", r))
			run.mu.Unlock()
		}
		m.finalize(run)
	}()

	st, err := m.extractor.Extract(ctx, req)
	if err != nil {
		m.terminate(ctx, run, err)
		return
	}
	defer st.Close()
	stopClose := context.AfterFunc(ctx, func() { st.Close() })
	defer stopClose()

	for {
		ev, err := st.Next(ctx)
		if err != nil {
			m.terminate(ctx, run, err)
			return
		}
		if done := m.apply(run, ev); done {
			return
		}
	}
}

// apply ingests one event and reports whether the run is frozen.
func (m *Manager) apply(run *Run, ev models.ProtocolEvent) bool {
	run.mu.Lock()
	err := run.agg.Ingest(ev)
	if err != nil {
		m.log.Warn("event rejected",
			zap.String("run", run.id),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
	run.refresh()
	update := EventUpdate{
		Event:       ev,
		Progress:    run.info.Progress,
		State:       run.info.Status,
		ResultCount: run.info.ResultCount,
	}
	done := run.agg.State().Terminal()
	run.broadcast(Message{Type: MessageEvent, RunID: run.id, Data: update}, m.log)
	run.mu.Unlock()
	return done
}

// terminate ends a run whose stream stopped without a terminal event.
func (m *Manager) terminate(ctx context.Context, run *Run, err error) {
	run.mu.Lock()
	defer run.mu.Unlock()
	switch {
	case errors.Is(err, io.EOF):
		run.agg.Finish()
	case ctx.Err() != nil:
		run.agg.Cancel()
	default:
		run.agg.Fail(err)
	}
}

// finalize freezes the run info, creates the review session and persists it.
func (m *Manager) finalize(run *Run) {
	run.mu.Lock()
	if run.finalized {
		run.mu.Unlock()
		return
	}
	run.finalized = true
	if run.agg.State() == models.RunStreaming {
		run.agg.Finish()
	}
	run.refresh()
	finished := m.now()
	run.info.FinishedAt = &finished
	run.info.ProcessingTimeMs = finished.Sub(run.info.StartedAt).Milliseconds()

	store := m.newReview(run)
	run.review = store
	sess := store.Session()
	info := run.info
	results := run.agg.CurrentView()
	run.mu.Unlock()

	m.persist(sess)
	m.updateDocuments(info, results)

	run.mu.Lock()
	run.broadcast(Message{Type: MessageReview, RunID: run.id, Data: sess.Summary()}, m.log)
	run.broadcast(Message{Type: MessageClosed, RunID: run.id, Data: info}, m.log)
	run.mu.Unlock()
	run.cancel()
	close(run.done)

	m.log.Info("run finished",
		zap.String("run", run.id),
		zap.String("state", string(info.Status)),
		zap.Int("results", info.ResultCount),
		zap.Int64("elapsed_ms", info.ProcessingTimeMs))
}

// updateDocuments marks each uploaded document extracted or errored. Results
// are matched to documents by filename.
func (m *Manager) updateDocuments(info models.RunInfo, results []models.FileResult) {
	outcome := make(map[string]models.ResultStatus, len(results))
	for _, r := range results {
		outcome[r.Filename] = r.Status
	}
	for _, id := range info.FileIDs {
		doc, err := m.docs.Get(id)
		if err != nil {
			continue
		}
		status := models.FileStatusError
		if outcome[doc.Name] == models.ResultSuccess {
			status = models.FileStatusExtracted
		}
		m.setDocumentStatus(id, status)
	}
}

func (m *Manager) setDocumentStatus(id, status string) {
	if err := m.docs.SetStatus(id, status); err != nil {
		m.log.Debug("document status not updated", zap.String("file", id), zap.Error(err))
	}
}

func (m *Manager) persist(sess *models.ReviewSession) {
	if m.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.persister.Save(ctx, sess); err != nil {
		m.log.Error("failed to persist review session", zap.String("session", sess.SessionID), zap.Error(err))
	}
}

// Cancel stops a streaming run. Results received so far are kept.
func (m *Manager) Cancel(id string) error {
	run, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if run.cancel != nil {
		run.cancel()
	}
	return nil
}

// Wait blocks until the run has been finalized or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) error {
	run, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the run info of a live or persisted run.
func (m *Manager) Status(ctx context.Context, id string) (models.RunInfo, error) {
	run, err := m.lookup(ctx, id)
	if err != nil {
		return models.RunInfo{}, err
	}
	return run.Info(), nil
}

// Touch marks a run as actively used so cleanup keeps it.
func (m *Manager) Touch(id string) bool {
	run, ok := m.get(id)
	if !ok {
		return false
	}
	run.mu.Lock()
	run.lastAccessed = m.now()
	run.mu.Unlock()
	return true
}

// Subscribe registers for run updates. The channel is closed when the run is
// dropped or unsubscribe is called. A finished run delivers its closed
// message immediately.
func (m *Manager) Subscribe(id string) (<-chan Message, func(), error) {
	run, ok := m.get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	ch, unsubscribe := run.subscribe(m.cfg.SubscriberBuffer)
	return ch, unsubscribe, nil
}

func (m *Manager) get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	return run, ok
}

// lookup finds a live run or restores a persisted one.
func (m *Manager) lookup(ctx context.Context, id string) (*Run, error) {
	if run, ok := m.get(id); ok {
		return run, nil
	}
	if m.persister == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	sess, err := m.persister.Load(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	run := m.restore(sess)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.runs[id]; ok {
		return existing, nil
	}
	m.runs[id] = run
	return run, nil
}

// cleanupIfNeeded evicts the oldest finished runs when at capacity.
func (m *Manager) cleanupIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.runs) < m.cfg.MaxRuns {
		return
	}

	type candidate struct {
		id     string
		access time.Time
	}
	var finished []candidate
	now := m.now()
	for id, run := range m.runs {
		run.mu.Lock()
		keep := !run.finalized || now.Sub(run.lastAccessed) < m.cfg.KeepAlive
		access := run.lastAccessed
		run.mu.Unlock()
		if !keep {
			finished = append(finished, candidate{id, access})
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].access.Before(finished[j].access) })

	excess := len(m.runs) - m.cfg.MaxRuns + 1
	for i := 0; i < excess && i < len(finished); i++ {
		m.dropLocked(finished[i].id)
		m.log.Info("evicted run", zap.String("run", finished[i].id))
	}
}

// CleanupOldRuns drops finished runs older than maxAge that were not touched
// within the keep-alive window. Their review sessions stay persisted.
func (m *Manager) CleanupOldRuns(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = m.cfg.MaxAge
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, run := range m.runs {
		run.mu.Lock()
		expired := run.finalized &&
			now.Sub(run.info.StartedAt) > maxAge &&
			now.Sub(run.lastAccessed) > m.cfg.KeepAlive
		run.mu.Unlock()
		if expired {
			m.dropLocked(id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Info("cleaned up runs", zap.Int("removed", removed))
	}
	return removed
}

func (m *Manager) dropLocked(id string) {
	run, ok := m.runs[id]
	if !ok {
		return
	}
	delete(m.runs, id)
	run.mu.Lock()
	run.closeSubscribers()
	run.mu.Unlock()
}

// Close cancels every streaming run and waits for the readers to finish.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
	m.mu.Lock()
	for id := range m.runs {
		m.dropLocked(id)
	}
	m.mu.Unlock()
	m.schemas.Purge()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
