package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/warden/internal/domain/permissions"
)

const validManifest = `
name: weather
version: 1.2.0
description: fetches forecasts
module: weather.wasm
author: someone # non-security fields are ignored
permissions:
  network:
    - api.weather.example
    - "*.cdn.example"
  filesystem:
    - ~/weather-cache
    - /var/lib/weather
  env_vars:
    - WEATHER_API_KEY
resources:
  max_fuel: 50000000000
  max_memory_mb: 32
  max_http_requests_per_minute: 60
`

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	m, err := Parse(strings.NewReader(validManifest), "/plugins/weather")
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "weather", m.Name)
	assert.Equal(t, "1.2.0", m.SemVer().String())
	assert.Equal(t, "/plugins/weather/weather.wasm", m.ModulePath())
	assert.Equal(t, []string{"api.weather.example", "*.cdn.example"}, m.Permissions.Network)
	assert.Equal(t, []string{filepath.Join(home, "weather-cache"), "/var/lib/weather"}, m.Permissions.Filesystem)
	assert.Equal(t, []string{"WEATHER_API_KEY"}, m.Permissions.EnvVars)

	assert.Equal(t, permissions.HardMaxFuel, m.Resources.MaxFuel, "clamped, not rejected")
	assert.Equal(t, uint32(32), m.Resources.MaxMemoryMB)
	assert.Equal(t, uint32(60), m.Resources.MaxHTTPRequestsPerMinute)
	assert.Equal(t, permissions.DefaultMaxTableElements, m.Resources.MaxTableElements)
	assert.Equal(t, []string{"max_fuel"}, m.Clamped)
}

func TestParse_RelativeRootsFollowManifest(t *testing.T) {
	t.Parallel()

	input := "name: cache\nversion: 1.0.0\nmodule: cache.wasm\npermissions:\n  filesystem:\n    - data\n    - ./out/../state\n    - /srv/cache\n"
	m, err := Parse(strings.NewReader(input), "/plugins/cache")
	require.NoError(t, err)
	assert.Equal(t, []string{"/plugins/cache/data", "/plugins/cache/state", "/srv/cache"}, m.Permissions.Filesystem)
}

func TestParse_NoPermissionsMeansNothing(t *testing.T) {
	t.Parallel()

	m, err := Parse(strings.NewReader("name: bare\nversion: 0.1.0\nmodule: bare.wasm\n"), "/tmp")
	require.NoError(t, err)
	assert.True(t, m.Permissions.IsEmpty())
	assert.Equal(t, permissions.DefaultResources(), m.Resources)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"missing module", "name: x\nversion: 1.0.0\n", "module"},
		{"bad version", "name: x\nversion: banana\nmodule: x.wasm\n", "semver"},
		{"negative limit", "name: x\nversion: 1.0.0\nmodule: x.wasm\nresources:\n  max_memory_mb: -1\n", "max_memory_mb"},
		{"unknown permission", "name: x\nversion: 1.0.0\nmodule: x.wasm\npermissions:\n  sockets: [raw]\n", "sockets"},
		{"bad env name", "name: x\nversion: 1.0.0\nmodule: x.wasm\npermissions:\n  env_vars: [\"A B\"]\n", "env_vars"},
		{"shell not bool", "name: x\nversion: 1.0.0\nmodule: x.wasm\npermissions:\n  shell: sometimes\n", "shell"},
		{"empty document", "", "(root)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(strings.NewReader(tt.input), "/tmp")
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validManifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather.wasm"), []byte("\x00asm"), 0o600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "weather.wasm"), m.ModulePath())

	data, err := m.ReadModule()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00asm"), data)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
