package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
)

// #region document
// document is the on-disk JSON layout of a FileStore snapshot.
type document struct {
	Format   string             `json:"format"`
	Version  int                `json:"version"`
	SavedAt  time.Time          `json:"saved_at"`
	Checksum string             `json:"checksum"`
	State    bandit.EngineState `json:"state"`
}

// checksum hashes the canonical JSON encoding of st.
func checksum(st bandit.EngineState) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
// #endregion document

// #region file-store
// FileStore keeps a single snapshot in a JSON file.
type FileStore struct {
	path string
	now  func() time.Time
}

// NewFileStore returns a store writing to path. The directory is created on
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: func() time.Time { return time.Now().UTC() }}
}

// Path returns the snapshot file location.
func (f *FileStore) Path() string { return f.path }
// #endregion file-store

// #region save
// Save writes st to a temp file in the target directory, syncs it and
// renames it over the previous snapshot.
func (f *FileStore) Save(ctx context.Context, st bandit.EngineState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sum, err := checksum(st)
	if err != nil {
		return err
	}
	doc := document{
		Format:   FormatName,
		Version:  FormatVersion,
		SavedAt:  f.now(),
		Checksum: sum,
		State:    st,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create dir: %v", ErrUnavailable, err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrUnavailable, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("%w: rename snapshot: %v", ErrUnavailable, err)
	}
	committed = true
	return nil
}
// #endregion save

// #region load
// Load reads and verifies the snapshot. A missing file is ErrAbsent; any
// decoding, checksum or structural failure is ErrCorrupt.
func (f *FileStore) Load(ctx context.Context) (bandit.EngineState, error) {
	if err := ctx.Err(); err != nil {
		return bandit.EngineState{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return bandit.EngineState{}, fmt.Errorf("%w: %s", ErrAbsent, f.path)
	}
	if err != nil {
		return bandit.EngineState{}, fmt.Errorf("%w: read snapshot: %v", ErrUnavailable, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return bandit.EngineState{}, fmt.Errorf("%w: decode: %v", ErrCorrupt, err)
	}
	if doc.Format != FormatName {
		return bandit.EngineState{}, fmt.Errorf("%w: unknown format %q", ErrCorrupt, doc.Format)
	}
	if doc.Version != FormatVersion {
		return bandit.EngineState{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}
	sum, err := checksum(doc.State)
	if err != nil {
		return bandit.EngineState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sum != doc.Checksum {
		return bandit.EngineState{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if err := bandit.Validate(doc.State); err != nil {
		return bandit.EngineState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return doc.State, nil
}
// #endregion load
