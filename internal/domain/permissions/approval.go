package permissions

import "time"

// Approval is what an operator last accepted for a plugin.
type Approval struct {
	Version     string            `yaml:"version"`
	Permissions PluginPermissions `yaml:"permissions"`
	ApprovedAt  time.Time         `yaml:"approved_at"`
}

// SecurityLevel is the operator's policy for broad capabilities.
type SecurityLevel string

const (
	// SecurityLevelStrict denies broad capabilities
	SecurityLevelStrict SecurityLevel = "strict"

	// SecurityLevelStandard warns about broad capabilities (default)
	SecurityLevelStandard SecurityLevel = "standard"

	// SecurityLevelPermissive allows all capabilities without warnings
	SecurityLevelPermissive SecurityLevel = "permissive"
)

// ParseSecurityLevel returns the level named by s, defaulting to standard.
func ParseSecurityLevel(s string) SecurityLevel {
	switch SecurityLevel(s) {
	case SecurityLevelStrict, SecurityLevelPermissive:
		return SecurityLevel(s)
	default:
		return SecurityLevelStandard
	}
}
