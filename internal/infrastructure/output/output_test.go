package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/warden/internal/domain/permissions"
	"github.com/reglet-dev/warden/internal/infrastructure/manifest"
)

func createTestReport(t *testing.T) *PluginReport {
	t.Helper()

	m, err := manifest.Parse(strings.NewReader(`
name: weather
version: 1.2.0
description: fetches forecasts
module: weather.wasm
permissions:
  network:
    - api.weather.example
    - "*"
  env_vars:
    - WEATHER_API_KEY
resources:
  max_memory_mb: 1024
`), "/plugins/weather")
	require.NoError(t, err)

	prev := &permissions.Approval{
		Version:     "1.1.0",
		Permissions: permissions.PluginPermissions{Network: []string{"api.weather.example"}},
		ApprovedAt:  time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
	}
	return NewPluginReport(m, prev)
}

func TestNewPluginReport(t *testing.T) {
	t.Parallel()

	r := createTestReport(t)

	assert.Equal(t, "/plugins/weather/weather.wasm", r.Module)
	require.Len(t, r.Capabilities, 3)
	assert.Equal(t, CapabilityRow{
		Capability:  "network:api.weather.example",
		Risk:        "medium",
		Approved:    true,
		Description: r.Capabilities[0].Description,
	}, r.Capabilities[0])
	assert.True(t, r.Capabilities[1].Broad)
	assert.Equal(t, "high", r.Capabilities[1].Risk)
	assert.False(t, r.Capabilities[1].Approved)
	assert.Equal(t, 2, r.Pending())
	assert.Equal(t, []string{"max_memory_mb"}, r.Clamped)
	assert.Equal(t, permissions.HardMaxMemoryMB, r.Resources.MaxMemoryMB)
}

func TestNewPluginReport_NeverApproved(t *testing.T) {
	t.Parallel()

	m, err := manifest.Parse(strings.NewReader("name: bare\nversion: 0.1.0\nmodule: bare.wasm\n"), "/p")
	require.NoError(t, err)

	r := NewPluginReport(m, nil)
	assert.Nil(t, r.Approval)
	assert.Empty(t, r.Capabilities)
	assert.Zero(t, r.Pending())
}

func TestFormatters(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, NewJSONFormatter(&buf, true).Format(createTestReport(t)))

		var decoded PluginReport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "weather", decoded.Name)
		assert.Len(t, decoded.Capabilities, 3)
		assert.Equal(t, "1.1.0", decoded.Approval.Version)
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, NewYAMLFormatter(&buf).Format(createTestReport(t)))

		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "weather", decoded["name"])
		assert.Contains(t, buf.String(), "max_memory_mb: 256")
	})

	t.Run("table", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		f := NewTableFormatter(&buf)
		f.EnableColor = false
		require.NoError(t, f.Format(createTestReport(t)))

		out := buf.String()
		assert.Contains(t, out, "Plugin: weather (v1.2.0)")
		assert.Contains(t, out, "Approved: v1.1.0 at 2026-05-06T07:08:09Z")
		assert.Contains(t, out, "HIGH")
		assert.Contains(t, out, "network:*")
		assert.Contains(t, out, "clamped to hard maximum: max_memory_mb")
		assert.NotContains(t, out, "\033[")
	})
}

func TestFormatterFactory(t *testing.T) {
	t.Parallel()

	factory := NewFormatterFactory()
	for _, name := range factory.SupportedFormats() {
		f, err := factory.Create(name, &bytes.Buffer{})
		require.NoError(t, err, name)
		assert.NotNil(t, f)
	}

	_, err := factory.Create("sarif", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
