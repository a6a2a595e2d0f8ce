// Package storage keeps uploaded documents on disk and review sessions in
// DuckDB.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/models"
)

// ErrFileNotFound is returned for unknown document ids.
var ErrFileNotFound = errors.New("file not found")

const metaSuffix = ".meta.json"

// Store defines the interface for document storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	Open(id string) (io.ReadCloser, error)
	SetStatus(id, status string) error
}

// LocalStore implements Store using the local filesystem. Each document is
// stored under its id with a JSON metadata sidecar.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
	log       *zap.Logger
}

// NewLocalStore creates a LocalStore and loads documents left by a previous run.
func NewLocalStore(uploadDir string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
		log:       logger,
	}
	s.scanExisting()
	return s, nil
}

func (s *LocalStore) scanExisting() {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		s.log.Warn("failed to scan upload directory", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.uploadDir, entry.Name()))
		if err != nil {
			continue
		}
		var info models.FileInfo
		if err := json.Unmarshal(data, &info); err != nil || info.ID == "" {
			s.log.Warn("skipping unreadable document metadata", zap.String("file", entry.Name()))
			continue
		}
		if _, err := os.Stat(s.path(info.ID)); err != nil {
			continue
		}
		s.files[info.ID] = &info
	}
	if len(s.files) > 0 {
		s.log.Info("loaded stored documents", zap.Int("count", len(s.files)))
	}
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.uploadDir, id)
}

func (s *LocalStore) writeMeta(info *models.FileInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(info.ID)+metaSuffix, data, 0644)
}

// Save saves a document to the local filesystem.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := s.path(id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       filepath.Base(name),
		Size:       size,
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
	}
	if err := s.writeMeta(info); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	return info, nil
}

// Get retrieves document metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	out := *info
	return &out, nil
}

// List returns the most recent documents.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		out := *info
		list = append(list, &out)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a document and its metadata.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	path := s.path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	os.Remove(path + metaSuffix)

	delete(s.files, id)
	return nil
}

// Open returns the document contents.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	_, ok := s.files[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return os.Open(s.path(id))
}

// SetStatus records the extraction status of a document.
func (s *LocalStore) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	info.Status = status
	return s.writeMeta(info)
}
