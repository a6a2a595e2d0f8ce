// manager_test.go - Tests for document storage
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-extract/backend/internal/models"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "uploads")

		_, err := NewLocalStore(uploadDir, nil)
		require.NoError(t, err)

		_, err = os.Stat(uploadDir)
		assert.NoError(t, err)
	})

	t.Run("reloads documents from a previous run", func(t *testing.T) {
		dir := t.TempDir()
		first, err := NewLocalStore(dir, nil)
		require.NoError(t, err)
		info, err := first.Save("invoice.pdf", strings.NewReader("%PDF"))
		require.NoError(t, err)
		require.NoError(t, first.SetStatus(info.ID, models.FileStatusExtracted))

		second, err := NewLocalStore(dir, nil)
		require.NoError(t, err)
		got, err := second.Get(info.ID)
		require.NoError(t, err)
		assert.Equal(t, "invoice.pdf", got.Name)
		assert.Equal(t, models.FileStatusExtracted, got.Status)
	})
}

func TestLocalStore_Save(t *testing.T) {
	store := createTestStore(t)

	info, err := store.Save("../../etc/report.pdf", strings.NewReader("Hello, World!"))
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "report.pdf", info.Name)
	assert.Equal(t, int64(13), info.Size)
	assert.Equal(t, models.FileStatusUploaded, info.Status)
	assert.WithinDuration(t, time.Now(), info.UploadedAt, time.Minute)

	rc, err := store.Open(info.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(data))
}

func TestLocalStore_Get(t *testing.T) {
	store := createTestStore(t)

	t.Run("returns a copy", func(t *testing.T) {
		info, err := store.Save("a.pdf", strings.NewReader("a"))
		require.NoError(t, err)

		got, err := store.Get(info.ID)
		require.NoError(t, err)
		got.Name = "mutated"

		again, _ := store.Get(info.ID)
		assert.Equal(t, "a.pdf", again.Name)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Get("missing")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})
}

func TestLocalStore_List(t *testing.T) {
	store := createTestStore(t)
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		_, err := store.Save(name, strings.NewReader(name))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	all, err := store.List(10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c.pdf", all[0].Name)
	assert.Equal(t, "a.pdf", all[2].Name)

	limited, err := store.List(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLocalStore_Delete(t *testing.T) {
	store := createTestStore(t)
	info, err := store.Save("a.pdf", strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(info.ID))
	_, err = store.Get(info.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = os.Stat(filepath.Join(store.uploadDir, info.ID+metaSuffix))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, store.Delete(info.ID), ErrFileNotFound)
	_, err = store.Open(info.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalStore_SetStatus(t *testing.T) {
	store := createTestStore(t)
	info, err := store.Save("a.pdf", strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(info.ID, models.FileStatusExtracting))
	got, _ := store.Get(info.ID)
	assert.Equal(t, models.FileStatusExtracting, got.Status)

	assert.ErrorIs(t, store.SetStatus("missing", models.FileStatusError), ErrFileNotFound)
}
