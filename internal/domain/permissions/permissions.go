package permissions

// PluginPermissions is the security section of a plugin manifest. It is
// immutable once loaded.
type PluginPermissions struct {
	// Network holds exact hosts, "*.suffix" wildcards or "*". Empty means no network.
	Network []string `yaml:"network,omitempty" json:"network,omitempty"`
	// Filesystem holds allowed root directories. Empty means no filesystem.
	Filesystem []string `yaml:"filesystem,omitempty" json:"filesystem,omitempty"`
	// EnvVars holds readable variable names. Empty means no environment.
	EnvVars []string `yaml:"env_vars,omitempty" json:"env_vars,omitempty"`
	// Shell is recorded for the operator; it is enforced elsewhere.
	Shell bool `yaml:"shell,omitempty" json:"shell,omitempty"`
}

// Capabilities flattens the permissions into a Grant, in manifest order.
func (p PluginPermissions) Capabilities() Grant {
	g := NewGrant()
	for _, host := range p.Network {
		g.Add(Capability{Kind: KindNetwork, Pattern: host})
	}
	for _, root := range p.Filesystem {
		g.Add(Capability{Kind: KindFS, Pattern: root})
	}
	for _, name := range p.EnvVars {
		g.Add(Capability{Kind: KindEnv, Pattern: name})
	}
	if p.Shell {
		g.Add(Capability{Kind: KindShell, Pattern: "enabled"})
	}
	return g
}

// IsEmpty reports whether the plugin asks for nothing at all.
func (p PluginPermissions) IsEmpty() bool {
	return len(p.Network) == 0 && len(p.Filesystem) == 0 && len(p.EnvVars) == 0 && !p.Shell
}

// Diff returns the capabilities present in next but not in prev. When a
// plugin is upgraded only these need fresh approval.
func Diff(prev, next PluginPermissions) Grant {
	return prev.Capabilities().Missing(next.Capabilities())
}
