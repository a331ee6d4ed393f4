// Package output renders plugin reports for the CLI.
package output

import (
	"time"

	"github.com/reglet-dev/warden/internal/domain/permissions"
	"github.com/reglet-dev/warden/internal/infrastructure/manifest"
)

// PluginReport describes a manifest and its approval state.
type PluginReport struct {
	Name         string                     `json:"name" yaml:"name"`
	Version      string                     `json:"version" yaml:"version"`
	Description  string                     `json:"description,omitempty" yaml:"description,omitempty"`
	Module       string                     `json:"module" yaml:"module"`
	Capabilities []CapabilityRow            `json:"capabilities" yaml:"capabilities"`
	Resources    permissions.ResourceConfig `json:"resources" yaml:"resources"`
	Clamped      []string                   `json:"clamped,omitempty" yaml:"clamped,omitempty"`
	Approval     *ApprovalState             `json:"approval,omitempty" yaml:"approval,omitempty"`
}

// CapabilityRow is one requested capability.
type CapabilityRow struct {
	Capability  string `json:"capability" yaml:"capability"`
	Risk        string `json:"risk" yaml:"risk"`
	Broad       bool   `json:"broad,omitempty" yaml:"broad,omitempty"`
	Approved    bool   `json:"approved" yaml:"approved"`
	Description string `json:"description" yaml:"description"`
}

// ApprovalState is what the operator last approved.
type ApprovalState struct {
	Version    string    `json:"version" yaml:"version"`
	ApprovedAt time.Time `json:"approved_at" yaml:"approved_at"`
}

// NewPluginReport builds a report for m. prev is the stored approval, or
// nil when the plugin has never been approved.
func NewPluginReport(m *manifest.Manifest, prev *permissions.Approval) *PluginReport {
	r := &PluginReport{
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Module:      m.ModulePath(),
		Resources:   m.Resources,
		Clamped:     m.Clamped,
	}

	approved := permissions.NewGrant()
	if prev != nil {
		approved = prev.Permissions.Capabilities()
		r.Approval = &ApprovalState{Version: prev.Version, ApprovedAt: prev.ApprovedAt}
	}

	for _, c := range m.Permissions.Capabilities() {
		r.Capabilities = append(r.Capabilities, CapabilityRow{
			Capability:  c.String(),
			Risk:        c.RiskLevel().String(),
			Broad:       c.IsBroad(),
			Approved:    approved.Contains(c),
			Description: c.RiskDescription(),
		})
	}
	return r
}

// Pending counts capabilities that still need approval.
func (r *PluginReport) Pending() int {
	n := 0
	for _, c := range r.Capabilities {
		if !c.Approved {
			n++
		}
	}
	return n
}
