// Package apperrors defines application-level error types.
package apperrors

import (
	"fmt"

	"github.com/reglet-dev/warden/internal/domain/permissions"
)

// ValidationError indicates a manifest or input failed validation.
type ValidationError struct {
	Field   string   // Field that failed validation
	Message string   // Error message
	Details []string // Additional details
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s (%d issues)", e.Field, e.Message, len(e.Details))
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string, details ...string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Details: details,
	}
}

// ApprovalError indicates a plugin's permissions were not approved.
type ApprovalError struct {
	Plugin   string
	Reason   string
	Required []permissions.Capability
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("plugin %s not approved: %s (%d capabilities pending)", e.Plugin, e.Reason, len(e.Required))
}

// NewApprovalError creates a new approval error.
func NewApprovalError(plugin, reason string, required []permissions.Capability) *ApprovalError {
	return &ApprovalError{
		Plugin:   plugin,
		Reason:   reason,
		Required: required,
	}
}

// ExecutionError indicates a plugin invocation failed.
type ExecutionError struct {
	Cause   error
	Plugin  string
	Message string
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("execution failed for plugin %s: %s: %v", e.Plugin, e.Message, e.Cause)
	}
	return fmt.Sprintf("execution failed for plugin %s: %s", e.Plugin, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates a new execution error.
func NewExecutionError(plugin, message string, cause error) *ExecutionError {
	return &ExecutionError{
		Plugin:  plugin,
		Message: message,
		Cause:   cause,
	}
}

// ConfigurationError indicates system config or setup issue.
type ConfigurationError struct {
	Cause   error
	Aspect  string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error (%s): %s: %v", e.Aspect, e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Aspect, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(aspect, message string, cause error) *ConfigurationError {
	return &ConfigurationError{
		Aspect:  aspect,
		Message: message,
		Cause:   cause,
	}
}
