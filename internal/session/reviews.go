package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/aggregate"
	"github.com/doc-extract/backend/internal/ledger"
	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/review"
	"github.com/doc-extract/backend/internal/sorting"
	"github.com/doc-extract/backend/internal/storage"
)

// ErrSessionExists is returned when an imported session id is already known.
var ErrSessionExists = errors.New("review session already exists")

// Review returns a snapshot of a run's review session.
func (m *Manager) Review(ctx context.Context, id string) (*models.ReviewSession, error) {
	var out *models.ReviewSession
	err := m.withReview(ctx, id, false, func(s *review.Store) error {
		out = s.Session()
		return nil
	})
	return out, err
}

// UpdateFields validates and stores field edits of one file.
func (m *Manager) UpdateFields(ctx context.Context, id, fileID string, edits []review.Edit) ([]models.FieldEdit, error) {
	var out []models.FieldEdit
	err := m.withReview(ctx, id, true, func(s *review.Store) error {
		var err error
		out, err = s.UpdateFields(fileID, edits)
		return err
	})
	return out, err
}

// Approve records an approval decision for one file.
func (m *Manager) Approve(ctx context.Context, id, fileID string, a review.Approval) (models.FileReviewStatus, error) {
	return m.decide(ctx, id, func(s *review.Store) (models.FileReviewStatus, error) {
		return s.Approve(fileID, a)
	})
}

// Reject records a rejection decision for one file.
func (m *Manager) Reject(ctx context.Context, id, fileID string, r review.Rejection) (models.FileReviewStatus, error) {
	return m.decide(ctx, id, func(s *review.Store) (models.FileReviewStatus, error) {
		return s.Reject(fileID, r)
	})
}

// Reopen moves a decided file back to in_review.
func (m *Manager) Reopen(ctx context.Context, id, fileID string) (models.FileReviewStatus, error) {
	return m.decide(ctx, id, func(s *review.Store) (models.FileReviewStatus, error) {
		return s.Reopen(fileID)
	})
}

func (m *Manager) decide(ctx context.Context, id string, fn func(*review.Store) (models.FileReviewStatus, error)) (models.FileReviewStatus, error) {
	var out models.FileReviewStatus
	err := m.withReview(ctx, id, true, func(s *review.Store) error {
		var err error
		out, err = fn(s)
		return err
	})
	return out, err
}

// withReview runs fn against the run's review store under the run lock. A
// mutating call persists the session and notifies subscribers when fn
// succeeds.
func (m *Manager) withReview(ctx context.Context, id string, mutate bool, fn func(*review.Store) error) error {
	run, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	run.mu.Lock()
	defer run.mu.Unlock()

	if run.review == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFinished, id)
	}
	run.lastAccessed = m.now()
	if err := fn(run.review); err != nil {
		return err
	}
	if !mutate {
		return nil
	}

	sess := run.review.Session()
	m.persist(sess)
	run.broadcast(Message{Type: MessageReview, RunID: run.id, Data: sess.Summary()}, m.log)
	return nil
}

// ListReviews lists persisted sessions together with the reviews of live
// runs, most recently updated first.
func (m *Manager) ListReviews(ctx context.Context) ([]models.ReviewSummary, error) {
	byID := make(map[string]models.ReviewSummary)
	if m.persister != nil {
		stored, err := m.persister.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing review sessions: %w", err)
		}
		for _, s := range stored {
			byID[s.SessionID] = s
		}
	}

	m.mu.RLock()
	for _, run := range m.runs {
		run.mu.Lock()
		if run.review != nil {
			byID[run.id] = run.review.Session().Summary()
		}
		run.mu.Unlock()
	}
	m.mu.RUnlock()

	out := make([]models.ReviewSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Export encodes a review session as a msgpack snapshot.
func (m *Manager) Export(ctx context.Context, id string) ([]byte, error) {
	sess, err := m.Review(ctx, id)
	if err != nil {
		return nil, err
	}
	return storage.EncodeSnapshot(sess)
}

// Import registers a review session from a msgpack snapshot and persists it.
func (m *Manager) Import(ctx context.Context, data []byte) (*models.ReviewSession, error) {
	sess, err := storage.DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	if _, err := m.lookup(ctx, sess.SessionID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sess.SessionID)
	} else if !errors.Is(err, ErrRunNotFound) {
		return nil, err
	}

	run := m.restore(sess)
	m.mu.Lock()
	if _, ok := m.runs[run.id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sess.SessionID)
	}
	m.runs[run.id] = run
	m.mu.Unlock()

	run.mu.Lock()
	out := run.review.Session()
	run.mu.Unlock()
	m.persist(out)

	m.log.Info("imported review session", zap.String("session", out.SessionID), zap.Int("files", len(out.Files)))
	return out, nil
}

// restore rebuilds a finished run from a persisted review session.
func (m *Manager) restore(sess *models.ReviewSession) *Run {
	meta := sess.BatchMetadata
	l := ledger.New()
	store := review.Restore(sess, l)

	init := &models.InitEvent{
		ModelFields: meta.Fields,
		ModelKey:    meta.ModelKey,
		ModelName:   meta.ModelName,
		AIModel:     meta.AIModel,
		TotalFiles:  meta.TotalFiles,
	}
	logger := m.log.With(zap.String("run", short(sess.SessionID)))
	agg := aggregate.FromResults(init, store.Results(), meta.RunState, logger)

	run := &Run{
		id:           sess.SessionID,
		gen:          m.gen.Add(1),
		agg:          agg,
		ledger:       l,
		review:       store,
		sorter:       sorting.NewSorter(m.cfg.Locale),
		done:         make(chan struct{}),
		finalized:    true,
		subs:         make(map[int]chan Message),
		lastAccessed: m.now(),
	}
	close(run.done)

	finished := sess.UpdatedAt
	run.info = models.RunInfo{
		ID:        sess.SessionID,
		SessionID: sess.SessionID,
		ModelKey:  meta.ModelKey,
		AIModel:   meta.AIModel,
		StartedAt: sess.CreatedAt,
	}
	if !finished.IsZero() {
		run.info.FinishedAt = &finished
	}
	run.refresh()

	store.SetSchema(m.analyzeExtracted(run), m.hintsFor(run))
	return run
}
