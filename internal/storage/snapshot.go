package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/doc-extract/backend/internal/models"
)

const snapshotVersion = 1

var (
	// ErrInvalidSnapshot is returned for data that is not a session snapshot.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrSnapshotVersion is returned for snapshots written by an unknown format version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)

type snapshot struct {
	Version int                   `json:"version"`
	Session *models.ReviewSession `json:"session"`
}

// EncodeSnapshot serializes a review session to msgpack. Struct fields use
// their JSON names so the snapshot mirrors the JSON wire shape.
func EncodeSnapshot(sess *models.ReviewSession) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(snapshot{Version: snapshotVersion, Session: sess}); err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reads a session written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*models.ReviewSession, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")

	var snap snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	if snap.Session == nil || snap.Session.SessionID == "" {
		return nil, fmt.Errorf("%w: no session", ErrInvalidSnapshot)
	}
	if snap.Session.Files == nil {
		snap.Session.Files = []models.FileReviewStatus{}
	}
	return snap.Session, nil
}
