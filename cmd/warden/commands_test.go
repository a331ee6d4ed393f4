package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reglet-dev/warden/internal/application/errors"
	"github.com/reglet-dev/warden/internal/infrastructure/manifest"
	"github.com/reglet-dev/warden/internal/infrastructure/wasm"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"approval", apperrors.NewApprovalError("p", "denied", nil), exitNotAllowed},
		{"manifest", &manifest.ValidationError{Problems: []string{"bad"}}, exitInvalid},
		{"validation", apperrors.NewValidationError("input-file", "missing"), exitInvalid},
		{"invocation", apperrors.NewExecutionError("p", "call failed", &wasm.InvocationError{Plugin: "p", Export: "run", Outcome: wasm.OutcomeTimedOut}), exitAborted},
		{"wrapped approval", fmt.Errorf("load: %w", apperrors.NewApprovalError("p", "denied", nil)), exitNotAllowed},
		{"other", errors.New("boom"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

// Command tests share the package-level cfgFile and are not parallel.

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "plugin.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`
name: weather
version: 1.2.0
module: weather.wasm
permissions:
  network:
    - api.weather.example
`), 0o600))

	prev := cfgFile
	cfgFile = filepath.Join(dir, "config.yaml")
	t.Cleanup(func() { cfgFile = prev })

	cmd := newInspectCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{manifestPath, "--format", "json"})
	require.NoError(t, cmd.Execute())

	var report map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "weather", report["name"])
	caps, ok := report["capabilities"].([]any)
	require.True(t, ok)
	assert.Len(t, caps, 1)
}

func TestInspectCommand_InvalidManifest(t *testing.T) {
	manifestPath := filepath.Join(t.TempDir(), "plugin.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("name: weather\n"), 0o600))

	cmd := newInspectCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{manifestPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, exitInvalid, exitCode(err))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Contains(t, out.String(), "warden version")
}

func TestReadInput(t *testing.T) {
	t.Parallel()

	data, err := readInput(&runOptions{input: `{"a":1}`})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, []byte("file input"), 0o600))
	data, err = readInput(&runOptions{inputFile: path})
	require.NoError(t, err)
	assert.Equal(t, "file input", string(data))

	_, err = readInput(&runOptions{inputFile: filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)
	assert.Equal(t, exitInvalid, exitCode(err))
}
