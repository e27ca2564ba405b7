package refine

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrStateNotFound is returned when no run snapshot exists yet.
var ErrStateNotFound = errors.New("refine: state not found")

// StateStore persists run snapshots.
type StateStore interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// Repository stores the snapshot as state.json inside a run directory.
type Repository struct {
	path string
}

// StateFileName is the snapshot file inside a run directory.
const StateFileName = "state.json"

// NewRepository creates a repository for the run directory dir.
func NewRepository(dir string) *Repository {
	return &Repository{path: filepath.Join(dir, StateFileName)}
}

// Path returns the snapshot location.
func (r *Repository) Path() string { return r.path }

// Load reads the persisted snapshot if present.
func (r *Repository) Load() (Snapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrStateNotFound
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Save writes the snapshot through a temp file and rename.
func (r *Repository) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
