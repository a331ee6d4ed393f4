package system

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/reglet-dev/warden/internal/domain/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoader_Load_FileNotExists(t *testing.T) {
	t.Parallel()

	loader := NewConfigLoader()
	cfg, err := loader.Load("/nonexistent/config.yaml")

	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, permissions.SecurityLevelStandard, cfg.Security.GetSecurityLevel())
	assert.Equal(t, "grants.yaml", filepath.Base(cfg.GrantsFile))
	assert.Empty(t, cfg.Audit.Destinations)
}

func TestConfigLoader_Load_ValidConfig(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yaml := `
audit:
  destinations:
    - type: file
      path: /var/log/warden/audit.jsonl
    - type: stderr

redaction:
  patterns:
    - "password\\s*=\\s*\\S+"
  hash_mode:
    enabled: true
    salt: "test-salt"
  disable_gitleaks: true

security:
  level: strict
  auto_approve:
    - 'kind == "env" && risk == "low"'

metrics:
  listen: 127.0.0.1:9464

grants_file: approvals.yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o600))

	cfg, err := NewConfigLoader().Load(configPath)
	require.NoError(t, err)

	require.Len(t, cfg.Audit.Destinations, 2)
	assert.Equal(t, "file", cfg.Audit.Destinations[0].Type)
	assert.Equal(t, "/var/log/warden/audit.jsonl", cfg.Audit.Destinations[0].Path)

	rc := cfg.Redaction.RedactorConfig()
	assert.Len(t, rc.Patterns, 1)
	assert.True(t, rc.HashMode)
	assert.Equal(t, "test-salt", rc.Salt)
	assert.True(t, rc.DisableGitleaks)

	assert.Equal(t, permissions.SecurityLevelStrict, cfg.Security.GetSecurityLevel())
	assert.Equal(t, []string{`kind == "env" && risk == "low"`}, cfg.Security.AutoApprove)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
	assert.Equal(t, filepath.Join(tmpDir, "approvals.yaml"), cfg.GrantsFile)
}

func TestConfigLoader_Load_PartialKeepsDefaults(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("metrics:\n  listen: :9000\n"), 0o600))

	cfg, err := NewConfigLoader().Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Metrics.Listen)
	assert.Equal(t, "standard", cfg.Security.Level)
	assert.Equal(t, DefaultConfig().GrantsFile, cfg.GrantsFile)
}

func TestConfigLoader_Load_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "security: [", "failed to parse system config"},
		{"unknown level", "security:\n  level: paranoid\n", "invalid security level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			configPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.content), 0o600))

			_, err := NewConfigLoader().Load(configPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecurityConfig_GetSecurityLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  permissions.SecurityLevel
	}{
		{"strict", permissions.SecurityLevelStrict},
		{"standard", permissions.SecurityLevelStandard},
		{"permissive", permissions.SecurityLevelPermissive},
		{"", permissions.SecurityLevelStandard},
	}

	for _, tt := range tests {
		cfg := SecurityConfig{Level: tt.level}
		assert.Equal(t, tt.want, cfg.GetSecurityLevel(), tt.level)
	}
}
