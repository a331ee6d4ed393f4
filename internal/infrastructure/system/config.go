// Package system provides infrastructure for system-level configuration.
// This includes loading the operator config file (~/.warden/config.yaml).
package system

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/reglet-dev/warden/internal/domain/permissions"
	"github.com/reglet-dev/warden/internal/infrastructure/audit"
	"github.com/reglet-dev/warden/internal/infrastructure/redaction"
)

// Config represents the operator configuration file.
// Plugin permissions come from manifests, not from here.
type Config struct {
	Audit      audit.Config    `yaml:"audit"`
	Redaction  RedactionConfig `yaml:"redaction"`
	Security   SecurityConfig  `yaml:"security"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	GrantsFile string          `yaml:"grants_file"`
}

// RedactionConfig configures how sensitive data is sanitized.
type RedactionConfig struct {
	HashMode        HashModeConfig `yaml:"hash_mode"`
	Patterns        []string       `yaml:"patterns"`
	DisableGitleaks bool           `yaml:"disable_gitleaks"`
}

// HashModeConfig controls hash-based redaction.
type HashModeConfig struct {
	Salt    string `yaml:"salt"`
	Enabled bool   `yaml:"enabled"`
}

// SecurityConfig configures capability security policies.
type SecurityConfig struct {
	// Level defines the security policy: "strict", "standard", or "permissive"
	// - strict: Deny all broad capabilities
	// - standard: Warn about broad capabilities (default)
	// - permissive: Allow all capabilities without warnings
	Level string `yaml:"level"`

	// AutoApprove holds expr rules; a capability matching any rule is
	// approved without prompting. Example: `kind == "env" && risk == "low"`.
	AutoApprove []string `yaml:"auto_approve"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address to serve /metrics on. Empty disables it.
	Listen string `yaml:"listen"`
}

// GetSecurityLevel returns the configured security level, defaulting to Standard.
func (c *SecurityConfig) GetSecurityLevel() permissions.SecurityLevel {
	return permissions.ParseSecurityLevel(c.Level)
}

// RedactorConfig converts the section into the redactor's options.
func (c *RedactionConfig) RedactorConfig() redaction.Config {
	return redaction.Config{
		Patterns:        c.Patterns,
		HashMode:        c.HashMode.Enabled,
		Salt:            c.HashMode.Salt,
		DisableGitleaks: c.DisableGitleaks,
	}
}

// DefaultDir returns ~/.warden, or .warden when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// ConfigLoader loads system configuration from disk.
type ConfigLoader struct{}

// NewConfigLoader creates a new system config loader.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// DefaultConfig returns a Config with safe defaults for all fields.
// This is used when no system config file exists.
func DefaultConfig() *Config {
	return &Config{
		Redaction: RedactionConfig{
			Patterns: []string{},
		},
		Security: SecurityConfig{
			Level:       string(permissions.SecurityLevelStandard),
			AutoApprove: []string{},
		},
		GrantsFile: filepath.Join(DefaultDir(), "grants.yaml"),
	}
}

// Load loads the system configuration from the specified path.
// If the file does not exist, returns DefaultConfig() with safe defaults.
// Fields missing from the file keep their defaults.
func (l *ConfigLoader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	//nolint:gosec // G304: path is the operator's config file
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}

	switch permissions.SecurityLevel(config.Security.Level) {
	case "", permissions.SecurityLevelStrict, permissions.SecurityLevelStandard, permissions.SecurityLevelPermissive:
	default:
		return nil, fmt.Errorf("invalid security level %q: must be strict, standard or permissive", config.Security.Level)
	}

	if config.GrantsFile != "" && !filepath.IsAbs(config.GrantsFile) {
		config.GrantsFile = filepath.Join(filepath.Dir(path), config.GrantsFile)
	}
	return config, nil
}
