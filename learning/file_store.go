package learning

import (
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileStore keeps state in a YAML file. Writes are atomic.
type FileStore struct {
	path string
}

// NewFileStore creates FileStore for given path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns file path
func (s *FileStore) Path() string {
	return s.path
}

// Save encodes state and replaces file with it
func (s *FileStore) Save(state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "Can't encode state")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrapf(err, "Can't create directory for %s", s.path)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return errors.Wrapf(err, "Can't write %s", s.path)
	}
	return nil
}

// Load reads state. Missing file gives (nil, nil).
func (s *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "Can't read %s", s.path)
	}
	state := &State{}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, errors.Wrapf(ErrMalformedState, "%s: %v", s.path, err)
	}
	return state, nil
}
