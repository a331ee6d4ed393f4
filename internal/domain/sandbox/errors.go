package sandbox

import (
	"errors"
	"fmt"
)

// Kind identifies why a host function call was refused.
type Kind string

// Permission denials.
const (
	KindNetworkDenied    Kind = "network_denied"
	KindHostNotAllowed   Kind = "host_not_allowed"
	KindDisallowedScheme Kind = "disallowed_scheme"
	KindPrivateIPDenied  Kind = "private_ip_denied"
	KindFsDenied         Kind = "fs_denied"
	KindOutsideSandbox   Kind = "outside_sandbox"
	KindSymlinkEscape    Kind = "symlink_escape"
	KindEnvDenied        Kind = "env_denied"
)

// Resource exhaustion.
const (
	KindRateLimited      Kind = "rate_limited"
	KindLogRateLimited   Kind = "log_rate_limited"
	KindBodyTooLarge     Kind = "body_too_large"
	KindResponseTooLarge Kind = "response_too_large"
	KindFileTooLarge     Kind = "file_too_large"
	KindFuelExhausted    Kind = "fuel_exhausted"
	KindMemoryExceeded   Kind = "memory_exceeded"
	KindTimeout          Kind = "timeout"
)

// Malformed input.
const (
	KindInvalidURL    Kind = "invalid_url"
	KindCannotResolve Kind = "cannot_resolve"
)

// Category groups kinds for audit and metrics labels.
type Category string

const (
	CategoryPermission Category = "permission"
	CategoryResource   Category = "resource"
	CategoryInput      Category = "input"
)

// Category returns the group a kind belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindRateLimited, KindLogRateLimited, KindBodyTooLarge, KindResponseTooLarge,
		KindFileTooLarge, KindFuelExhausted, KindMemoryExceeded, KindTimeout:
		return CategoryResource
	case KindInvalidURL, KindCannotResolve:
		return CategoryInput
	default:
		return CategoryPermission
	}
}

// Error is a refusal returned to the guest. Its message is safe to hand to
// untrusted code: it never contains canonical host paths or live counters.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is a sandbox error of the same kind, so
// errors.Is(err, sandbox.ErrRateLimited) works on wrapped errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks.
var (
	ErrNetworkDenied    = &Error{Kind: KindNetworkDenied}
	ErrHostNotAllowed   = &Error{Kind: KindHostNotAllowed}
	ErrDisallowedScheme = &Error{Kind: KindDisallowedScheme}
	ErrPrivateIPDenied  = &Error{Kind: KindPrivateIPDenied}
	ErrFsDenied         = &Error{Kind: KindFsDenied}
	ErrOutsideSandbox   = &Error{Kind: KindOutsideSandbox}
	ErrSymlinkEscape    = &Error{Kind: KindSymlinkEscape}
	ErrEnvDenied        = &Error{Kind: KindEnvDenied}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrLogRateLimited   = &Error{Kind: KindLogRateLimited}
	ErrBodyTooLarge     = &Error{Kind: KindBodyTooLarge}
	ErrResponseTooLarge = &Error{Kind: KindResponseTooLarge}
	ErrFileTooLarge     = &Error{Kind: KindFileTooLarge}
	ErrFuelExhausted    = &Error{Kind: KindFuelExhausted}
	ErrMemoryExceeded   = &Error{Kind: KindMemoryExceeded}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrInvalidURL       = &Error{Kind: KindInvalidURL}
	ErrCannotResolve    = &Error{Kind: KindCannotResolve}
)

// KindOf extracts the kind from err, if it is a sandbox error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// GuestMessage renders err for the guest. Resource exhaustion is reported
// generically so the guest cannot probe the host's counters.
func GuestMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind.Category() == CategoryResource {
		return fmt.Sprintf("%s: resource exhausted", e.Kind)
	}
	return e.Error()
}
