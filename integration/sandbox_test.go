package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/infrastructure/container"
)

const (
	logRequest  = `{"level":2,"message":"key is SECRET-ABC12345"}`
	httpRequest = `{"method":"GET","url":"http://169.254.169.254/latest/meta-data"}`
	httpOffset  = 128
)

// canaryModule imports log_message and http_request. "log" sends logRequest
// and "canary" sends httpRequest, both from data segments.
func canaryModule() []byte {
	packedHTTP := int64(httpOffset)<<32 | int64(len(httpRequest))

	return module(
		section(1, vec(
			funcType([]byte{i64}, nil),
			funcType([]byte{i64}, []byte{i64}),
			funcType(nil, nil),
		)),
		section(2, vec(
			append(append(name("warden_host"), name("log_message")...), 0x00, 0x00),
			append(append(name("warden_host"), name("http_request")...), 0x00, 0x01),
		)),
		section(3, vec([]byte{2}, []byte{2})),
		section(5, vec([]byte{0x00, 0x01})),
		section(7, vec(
			export("log", 0x00, 2),
			export("canary", 0x00, 3),
			export("memory", 0x02, 0),
		)),
		section(10, vec(
			code(append(append([]byte{0x42}, sleb(int64(len(logRequest)))...), 0x10, 0x00, 0x0b)...),
			code(append(append([]byte{0x42}, sleb(packedHTTP)...), 0x10, 0x01, 0x1a, 0x0b)...),
		)),
		section(11, vec(
			append([]byte{0x00, 0x41, 0x00, 0x0b}, name(logRequest)...),
			append(append([]byte{0x00, 0x41}, sleb(httpOffset)...), append([]byte{0x0b}, name(httpRequest)...)...),
		)),
	)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSandbox_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.jsonl")

	// 1. Operator config with a custom redaction rule and a file audit sink
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
audit:
  destinations:
    - type: file
      path: `+auditPath+`
redaction:
  patterns:
    - "SECRET-[A-Z0-9]{8}"
  disable_gitleaks: true
grants_file: grants.yaml
`), 0o600))

	// 2. Plugin allowed to reach api.example.com only
	require.NoError(t, os.WriteFile(filepath.Join(dir, "canary.wasm"), canaryModule(), 0o600))
	manifestPath := filepath.Join(dir, "plugin.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`
name: canary
version: 1.0.0
module: canary.wasm
permissions:
  network:
    - api.example.com
`), 0o600))

	var logs syncBuffer
	c, err := container.New(container.Options{
		Logger:           slog.New(slog.NewJSONHandler(&logs, nil)),
		SystemConfigPath: configPath,
	})
	require.NoError(t, err)

	ctx := context.Background()
	plugin, _, err := c.LoadPlugin(ctx, manifestPath, true)
	require.NoError(t, err)

	// 3. Guest log lines are redacted before they reach the host log
	_, err = plugin.Call(ctx, "log", nil)
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "SECRET-ABC12345")
	assert.Contains(t, logs.String(), `"plugin":"canary"`)

	// 4. The metadata endpoint is refused and the refusal is audited
	_, err = plugin.Call(ctx, "canary", nil)
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))

	f, err := os.Open(auditPath)
	require.NoError(t, err)
	defer f.Close()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec audit.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), scanner.Text())
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())

	var denied *audit.Record
	for i := range records {
		if records[i].Function == "http_request" {
			denied = &records[i]
		}
	}
	require.NotNil(t, denied, "http_request must be audited")
	assert.Equal(t, audit.StatusDenied, denied.Status)
	assert.Equal(t, "host_not_allowed", denied.Kind)
	assert.Equal(t, "canary", denied.PluginID)
	assert.NotEmpty(t, denied.InvocationID)

	// 5. The approval was recorded for the next run
	_, err = os.Stat(filepath.Join(dir, "grants.yaml"))
	assert.NoError(t, err)
}
