// Package permissions defines what a plugin declares it may touch and the
// resource budget it runs under.
package permissions

import (
	"path/filepath"
	"strings"
)

// Capability kinds.
const (
	KindNetwork = "network"
	KindFS      = "fs"
	KindEnv     = "env"
	KindShell   = "shell"
)

// Filesystem roots that expose far more than a plugin should need.
var broadFilesystemRoots = []string{"/", "/etc", "/root", "/home", "/var", "/usr"}

// Variable name fragments that suggest a credential.
var credentialMarkers = []string{"_SECRET", "_PASSWORD", "_TOKEN", "_KEY"}

// RiskLevel represents the security risk level of a capability.
type RiskLevel int

const (
	// RiskLevelLow is a specific, narrow permission.
	RiskLevelLow RiskLevel = iota
	// RiskLevelMedium is network access or access to likely credentials.
	RiskLevelMedium
	// RiskLevelHigh is a broad permission or shell access.
	RiskLevelHigh
)

// String returns a human-readable representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Capability is a single permission entry, flattened from a manifest.
type Capability struct {
	Kind    string `yaml:"kind" json:"kind"`
	Pattern string `yaml:"pattern" json:"pattern"`
}

// Equals checks value equality.
func (c Capability) Equals(other Capability) bool {
	return c.Kind == other.Kind && c.Pattern == other.Pattern
}

func (c Capability) String() string {
	return c.Kind + ":" + c.Pattern
}

// IsBroad returns true if the capability is overly permissive.
func (c Capability) IsBroad() bool {
	switch c.Kind {
	case KindNetwork:
		return c.Pattern == "*"
	case KindFS:
		clean := filepath.ToSlash(filepath.Clean(c.Pattern))
		for _, root := range broadFilesystemRoots {
			if clean == root {
				return true
			}
		}
		return false
	case KindShell:
		return true
	default:
		return false
	}
}

// RiskLevel classifies the capability for presentation to an operator.
func (c Capability) RiskLevel() RiskLevel {
	if c.IsBroad() {
		return RiskLevelHigh
	}
	switch c.Kind {
	case KindNetwork:
		return RiskLevelMedium
	case KindEnv:
		if looksLikeCredential(c.Pattern) {
			return RiskLevelMedium
		}
	case KindFS:
		if strings.HasPrefix(filepath.ToSlash(c.Pattern), "/etc/") {
			return RiskLevelMedium
		}
	}
	return RiskLevelLow
}

// RiskDescription explains what granting the capability means.
func (c Capability) RiskDescription() string {
	switch c.Kind {
	case KindNetwork:
		if c.Pattern == "*" {
			return "Plugin can connect to any public host on the internet"
		}
		if strings.HasPrefix(c.Pattern, "*.") {
			return "Plugin can make requests to any subdomain of " + strings.TrimPrefix(c.Pattern, "*.")
		}
		return "Plugin can make network requests to: " + c.Pattern

	case KindFS:
		if c.IsBroad() {
			return "Plugin can read and write a large part of the filesystem under " + c.Pattern
		}
		return "Plugin can read and write files under " + c.Pattern

	case KindEnv:
		if looksLikeCredential(c.Pattern) {
			return "Plugin can read " + c.Pattern + ", which looks like a credential"
		}
		return "Plugin can read environment variable: " + c.Pattern

	case KindShell:
		return "Plugin declares it needs to run shell commands"

	default:
		return "Plugin requires capability: " + c.String()
	}
}

func looksLikeCredential(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range credentialMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
