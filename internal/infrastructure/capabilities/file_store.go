// Package capabilities persists operator approvals and asks for new ones.
package capabilities

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/reglet-dev/warden/internal/domain/permissions"
)

// FileStore keeps approvals in a single YAML file, one entry per plugin.
type FileStore struct {
	mu         sync.Mutex
	configPath string
}

// NewFileStore creates a new FileStore.
func NewFileStore(configPath string) *FileStore {
	return &FileStore{
		configPath: configPath,
	}
}

// ConfigPath returns the path to the grants file.
func (s *FileStore) ConfigPath() string {
	return s.configPath
}

// grantsFile represents the YAML structure of the grants file.
type grantsFile struct {
	Plugins map[string]permissions.Approval `yaml:"plugins"`
}

// Get returns the approval recorded for plugin.
func (s *FileStore) Get(plugin string) (permissions.Approval, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return permissions.Approval{}, false, err
	}
	a, ok := f.Plugins[plugin]
	return a, ok, nil
}

// Put replaces the approval recorded for plugin.
func (s *FileStore) Put(plugin string, approval permissions.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	f.Plugins[plugin] = approval
	return s.write(f)
}

// read loads the file. A missing file is an empty store.
func (s *FileStore) read() (grantsFile, error) {
	f := grantsFile{Plugins: make(map[string]permissions.Approval)}

	data, err := os.ReadFile(s.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("failed to read grants file: %w", err)
	}

	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse grants file: %w", err)
	}
	if f.Plugins == nil {
		f.Plugins = make(map[string]permissions.Approval)
	}
	return f, nil
}

func (s *FileStore) write(f grantsFile) error {
	dir := filepath.Dir(s.configPath)
	//nolint:gosec // G301: 0o755 is standard for user config directories
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.MarshalWithOptions(f, yaml.IndentSequence(true))
	if err != nil {
		return fmt.Errorf("failed to marshal grants to YAML: %w", err)
	}

	// Write to a sibling file and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(dir, ".grants-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name()) // no-op after a successful rename
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write grants file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write grants file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to set grants file mode: %w", err)
	}
	return os.Rename(tmp.Name(), s.configPath)
}
