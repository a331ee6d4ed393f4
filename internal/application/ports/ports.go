// Package ports defines interfaces for infrastructure dependencies.
// These are the "ports" in hexagonal architecture - abstractions that
// the application layer depends on but doesn't implement.
package ports

import (
	"context"

	"github.com/reglet-dev/warden/internal/domain/permissions"
)

// GrantStore persists operator approvals per plugin.
type GrantStore interface {
	// Get returns the last approval for plugin, if any.
	Get(plugin string) (permissions.Approval, bool, error)
	// Put records an approval, replacing the previous one.
	Put(plugin string, approval permissions.Approval) error
}

// Prompter asks the operator to approve new capabilities.
type Prompter interface {
	// IsInteractive reports whether an operator can be asked.
	IsInteractive() bool
	// Confirm shows the capabilities and returns the operator's answer.
	Confirm(ctx context.Context, plugin string, pending []permissions.Capability) (bool, error)
}
