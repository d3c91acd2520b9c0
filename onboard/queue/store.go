package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	QUEUE_DIR = "queue"
	DATA_FILE = "data.json"
)

// Store keeps one directory per queued action:
// {data_dir}/queue/{id}_{type}/data.json
type Store struct {
	dir string
}

func OpenStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, QUEUE_DIR)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) actionDir(id ActionID, typeName string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%s", id, typeName))
}

// Save writes the state of a. A new action directory only appears once its
// data file is complete, and rewrites replace the data file atomically.
func (s *Store) Save(a Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode action %d: %w", a.ID(), err)
	}

	final := s.actionDir(a.ID(), a.TypeName())
	if _, err := os.Stat(final); os.IsNotExist(err) {
		tmpDir := filepath.Join(s.dir, "."+filepath.Base(final)+".tmp")
		_ = os.RemoveAll(tmpDir)
		if err := os.MkdirAll(tmpDir, 0755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(tmpDir, DATA_FILE), data, 0644); err != nil {
			return err
		}
		return os.Rename(tmpDir, final)
	}

	tmp := filepath.Join(final, DATA_FILE+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(final, DATA_FILE))
}

func (s *Store) Remove(a Action) error {
	return os.RemoveAll(s.actionDir(a.ID(), a.TypeName()))
}

// Read reconstructs a single persisted action.
func (s *Store) Read(id ActionID, typeName string) (Action, error) {
	dir := s.actionDir(id, typeName)
	data, err := os.ReadFile(filepath.Join(dir, DATA_FILE))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	a, err := Reconstruct(typeName, id, data, dir)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	return a, nil
}

// Load reconstructs every persisted action ordered by id. Any entry that
// cannot be reconstructed fails the whole load.
func (s *Store) Load() ([]Action, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var actions []Action
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.IsDir() {
			return nil, fmt.Errorf("unexpected file %s in queue dir", name)
		}

		id, typeName, err := parseActionDir(name)
		if err != nil {
			return nil, err
		}

		a, err := s.Read(id, typeName)
		if err != nil {
			return nil, err
		}
		observeActionID(id)
		actions = append(actions, a)
	}

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].ID() < actions[j].ID()
	})
	return actions, nil
}

func parseActionDir(name string) (id ActionID, typeName string, err error) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, "", fmt.Errorf("malformed action dir %q", name)
	}

	n, err := strconv.ParseUint(name[:idx], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed action dir %q: %w", name, err)
	}
	return ActionID(n), name[idx+1:], nil
}
