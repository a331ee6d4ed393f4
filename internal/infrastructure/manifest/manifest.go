// Package manifest loads and validates plugin manifests (plugin.yaml).
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-yaml"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/reglet-dev/warden/internal/domain/permissions"
)

//go:embed manifest.schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("manifest.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add manifest schema: %w", err)
	}
	return compiler.Compile("manifest.schema.json")
})

// Manifest is a parsed plugin.yaml. Only the security sections are
// interpreted; the rest is carried for display.
type Manifest struct {
	Name        string                        `yaml:"name"`
	Version     string                        `yaml:"version"`
	Description string                        `yaml:"description,omitempty"`
	Module      string                        `yaml:"module"`
	Permissions permissions.PluginPermissions `yaml:"permissions,omitempty"`
	Resources   permissions.ResourceConfig    `yaml:"resources,omitempty"`

	// Dir is the directory the manifest was loaded from; Module is
	// resolved against it.
	Dir string `yaml:"-"`
	// Clamped lists resource fields that exceeded their hard maximum.
	Clamped []string `yaml:"-"`

	semver *semver.Version
}

// SemVer returns the parsed manifest version.
func (m *Manifest) SemVer() *semver.Version {
	return m.semver
}

// ModulePath returns the absolute path of the plugin's wasm module.
func (m *Manifest) ModulePath() string {
	if filepath.IsAbs(m.Module) {
		return m.Module
	}
	return filepath.Join(m.Dir, m.Module)
}

// ReadModule reads the plugin's wasm module from disk.
func (m *Manifest) ReadModule() ([]byte, error) {
	data, err := os.ReadFile(m.ModulePath())
	if err != nil {
		return nil, fmt.Errorf("failed to read module for plugin %s: %w", m.Name, err)
	}
	return data, nil
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest directory: %w", err)
	}

	// Security: Use os.OpenRoot to prevent path traversal attacks
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest directory: %w", err)
	}
	defer func() {
		_ = root.Close() // Best-effort cleanup
	}()

	file, err := root.Open(filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() {
		_ = file.Close() // Best-effort cleanup
	}()

	return Parse(file, dir)
}

// Parse decodes and validates a manifest. dir is recorded as Manifest.Dir.
func Parse(r io.Reader, dir string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest YAML: %w", err)
	}

	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("version %q is not valid semver: %v", m.Version, err)}}
	}
	m.semver = v
	m.Dir = dir

	if m.Permissions.Filesystem, err = resolveRoots(m.Permissions.Filesystem, dir); err != nil {
		return nil, err
	}

	m.Resources, m.Clamped = m.Resources.Normalize()
	for _, field := range m.Clamped {
		slog.Warn("resource limit above hard maximum was clamped", "plugin", m.Name, "field", field)
	}

	return &m, nil
}

// ValidationError lists every schema violation found in a manifest.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest validation failed:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

func validateSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	asJSON, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("failed to decode manifest YAML: %w", err)
	}
	var doc any
	if len(bytes.TrimSpace(asJSON)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(asJSON))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("failed to decode manifest YAML: %w", err)
		}
	}

	if err := schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok { //nolint:errorlint // Validate returns the concrete type
			return &ValidationError{Problems: collectProblems(verr)}
		}
		return fmt.Errorf("manifest validation failed: %w", err)
	}
	return nil
}

func collectProblems(err *jsonschema.ValidationError) []string {
	var problems []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "(root)"
			}
			problems = append(problems, fmt.Sprintf("%s: %s", location, e.Message))
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	return problems
}

// resolveRoots expands "~" and anchors relative roots at the manifest's
// directory, so a root never depends on the host's working directory.
func resolveRoots(roots []string, dir string) ([]string, error) {
	expanded, err := expandHome(roots)
	if err != nil {
		return nil, err
	}
	for i, root := range expanded {
		if dir != "" && !filepath.IsAbs(root) {
			expanded[i] = filepath.Join(dir, root)
		}
	}
	return expanded, nil
}

// expandHome expands a leading "~" once, at load time.
func expandHome(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return paths, nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		if p != "~" && !strings.HasPrefix(p, "~/") {
			out[i] = p
			continue
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to expand %q: %w", p, err)
		}
		out[i] = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return out, nil
}
