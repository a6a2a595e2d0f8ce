package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/models"
)

// ErrSessionNotFound is returned when no review session has the given id.
var ErrSessionNotFound = errors.New("review session not found")

// Rows are replaced with delete-then-insert inside one transaction, so the
// tables carry no key constraints.
var sessionSchema = []string{
	`CREATE TABLE IF NOT EXISTS review_sessions (
		session_id     VARCHAR NOT NULL,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL,
		model_key      VARCHAR,
		run_state      VARCHAR,
		batch_metadata VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS review_files (
		session_id     VARCHAR NOT NULL,
		position       INTEGER NOT NULL,
		file_id        VARCHAR NOT NULL,
		filename       VARCHAR NOT NULL,
		status         VARCHAR NOT NULL,
		has_errors     BOOLEAN NOT NULL,
		extracted_data VARCHAR,
		edits          VARCHAR,
		approval       VARCHAR,
		processing     VARCHAR
	)`,
}

// SessionStore persists review sessions in a DuckDB file.
type SessionStore struct {
	db     *sql.DB
	dbPath string
	log    *zap.Logger
}

// OpenSessionStore opens or creates the database at dbPath. An empty path
// keeps the database in memory.
func OpenSessionStore(dbPath string, logger *zap.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range sessionSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create review tables: %w", err)
		}
	}

	logger.Info("review session store ready", zap.String("path", dbPath))
	return &SessionStore{db: db, dbPath: dbPath, log: logger}, nil
}

// Save replaces the stored copy of a session.
func (s *SessionStore) Save(ctx context.Context, sess *models.ReviewSession) error {
	meta, err := json.Marshal(sess.BatchMetadata)
	if err != nil {
		return fmt.Errorf("encoding batch metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_files WHERE session_id = ?`, sess.SessionID); err != nil {
		return fmt.Errorf("clearing files: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM review_sessions WHERE session_id = ?`, sess.SessionID); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO review_sessions (session_id, created_at, updated_at, model_key, run_state, batch_metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
		sess.BatchMetadata.ModelKey, string(sess.BatchMetadata.RunState), string(meta),
	); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	for i, f := range sess.Files {
		cols, err := encodeFile(f)
		if err != nil {
			return fmt.Errorf("encoding file %s: %w", f.FileID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO review_files (session_id, position, file_id, filename, status, has_errors,
			                           extracted_data, edits, approval, processing)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.SessionID, i, f.FileID, f.Filename, string(f.Status), f.HasErrors,
			cols.data, cols.edits, cols.approval, cols.processing,
		); err != nil {
			return fmt.Errorf("inserting file %s: %w", f.FileID, err)
		}
	}

	return tx.Commit()
}

// Load reads a session by id.
func (s *SessionStore) Load(ctx context.Context, id string) (*models.ReviewSession, error) {
	var (
		sess models.ReviewSession
		meta string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, updated_at, batch_metadata FROM review_sessions WHERE session_id = ?`, id)
	if err := row.Scan(&sess.SessionID, &sess.CreatedAt, &sess.UpdatedAt, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &sess.BatchMetadata); err != nil {
		return nil, fmt.Errorf("decoding batch metadata: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, filename, status, has_errors, extracted_data, edits, approval, processing
		 FROM review_files WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sess.Files = []models.FileReviewStatus{}
	for rows.Next() {
		var (
			f      models.FileReviewStatus
			status string
			cols   fileColumns
		)
		if err := rows.Scan(&f.FileID, &f.Filename, &status, &f.HasErrors,
			&cols.data, &cols.edits, &cols.approval, &cols.processing); err != nil {
			return nil, err
		}
		f.Status = models.ReviewStatus(status)
		if err := cols.decode(&f); err != nil {
			return nil, fmt.Errorf("decoding file %s: %w", f.FileID, err)
		}
		sess.Files = append(sess.Files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// List returns session summaries, most recently updated first.
func (s *SessionStore) List(ctx context.Context) ([]models.ReviewSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, created_at, updated_at, model_key, run_state FROM review_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}

	var (
		list  []models.ReviewSummary
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			sum       models.ReviewSummary
			modelKey  sql.NullString
			runState  sql.NullString
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&sum.SessionID, &createdAt, &updatedAt, &modelKey, &runState); err != nil {
			rows.Close()
			return nil, err
		}
		sum.CreatedAt, sum.UpdatedAt = createdAt, updatedAt
		sum.ModelKey = modelKey.String
		sum.RunState = models.RunState(runState.String)
		sum.Counts = make(map[models.ReviewStatus]int)
		index[sum.SessionID] = len(list)
		list = append(list, sum)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts, err := s.db.QueryContext(ctx,
		`SELECT session_id, status, COUNT(*) FROM review_files GROUP BY session_id, status`)
	if err != nil {
		return nil, err
	}
	defer counts.Close()
	for counts.Next() {
		var (
			id, status string
			n          int
		)
		if err := counts.Scan(&id, &status, &n); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			list[i].Counts[models.ReviewStatus(status)] = n
			list[i].TotalFiles += n
		}
	}
	return list, counts.Err()
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_files WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM review_sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

type fileColumns struct {
	data       sql.NullString
	edits      sql.NullString
	approval   sql.NullString
	processing sql.NullString
}

func encodeFile(f models.FileReviewStatus) (fileColumns, error) {
	var cols fileColumns
	data, err := f.ExtractedData.MarshalJSON()
	if err != nil {
		return cols, err
	}
	cols.data = sql.NullString{String: string(data), Valid: true}

	edits, err := json.Marshal(f.Edits)
	if err != nil {
		return cols, err
	}
	cols.edits = sql.NullString{String: string(edits), Valid: true}

	if f.Approval != nil {
		approval, err := json.Marshal(f.Approval)
		if err != nil {
			return cols, err
		}
		cols.approval = sql.NullString{String: string(approval), Valid: true}
	}

	processing, err := json.Marshal(f.Processing)
	if err != nil {
		return cols, err
	}
	cols.processing = sql.NullString{String: string(processing), Valid: true}
	return cols, nil
}

func (c fileColumns) decode(f *models.FileReviewStatus) error {
	if c.data.Valid {
		if err := f.ExtractedData.UnmarshalJSON([]byte(c.data.String)); err != nil {
			return err
		}
	}
	f.Edits = []models.FieldEdit{}
	if c.edits.Valid && c.edits.String != "null" {
		if err := json.Unmarshal([]byte(c.edits.String), &f.Edits); err != nil {
			return err
		}
	}
	if c.approval.Valid {
		f.Approval = &models.ApprovalMetadata{}
		if err := json.Unmarshal([]byte(c.approval.String), f.Approval); err != nil {
			return err
		}
	}
	if c.processing.Valid {
		if err := json.Unmarshal([]byte(c.processing.String), &f.Processing); err != nil {
			return err
		}
	}
	return nil
}
