// Package wasm runs plugins inside wazero under a per-plugin sandbox and
// resource budget.
package wasm

import (
	"fmt"

	"github.com/reglet-dev/warden/internal/domain/permissions"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
)

// Outcome is how a single invocation ended.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFuelExhausted  Outcome = "fuel_exhausted"
	OutcomeMemoryExceeded Outcome = "memory_exceeded"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeTrapped        Outcome = "trapped"
)

// Kind returns the sandbox error kind for the resource outcomes.
func (o Outcome) Kind() (sandbox.Kind, bool) {
	switch o {
	case OutcomeFuelExhausted:
		return sandbox.KindFuelExhausted, true
	case OutcomeMemoryExceeded:
		return sandbox.KindMemoryExceeded, true
	case OutcomeTimedOut:
		return sandbox.KindTimeout, true
	default:
		return "", false
	}
}

// PluginSpec is everything needed to load a plugin.
type PluginSpec struct {
	ID          string
	Permissions permissions.PluginPermissions
	Resources   permissions.ResourceConfig
	Module      []byte
}

// InvocationError reports an invocation that did not complete. It matches
// the sandbox kind sentinels, so errors.Is(err, sandbox.ErrTimeout) works.
type InvocationError struct {
	Plugin  string
	Export  string
	Outcome Outcome
	Err     error
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if kind, ok := e.Outcome.Kind(); ok {
		return fmt.Sprintf("plugin %s: %s: %s", e.Plugin, e.Export, sandbox.GuestMessage(&sandbox.Error{Kind: kind}))
	}
	return fmt.Sprintf("plugin %s: %s: %s: %v", e.Plugin, e.Export, e.Outcome, e.Err)
}

// Unwrap exposes the outcome's sandbox kind and the engine error.
func (e *InvocationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if kind, ok := e.Outcome.Kind(); ok {
		errs = append(errs, &sandbox.Error{Kind: kind})
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
