// Package hostfuncs implements the functions a guest plugin can import from
// the "warden_host" module. Every call is checked against the calling
// plugin's sandbox and audited.
package hostfuncs

import (
	"context"

	"github.com/reglet-dev/warden/internal/domain/sandbox"
)

// Operation is the closed set of host functions.
type Operation int

const (
	OpHTTPRequest Operation = iota
	OpReadFile
	OpWriteFile
	OpGetEnv
	OpLogMessage
)

// Operations lists every host function in export order.
var Operations = []Operation{OpHTTPRequest, OpReadFile, OpWriteFile, OpGetEnv, OpLogMessage}

// String returns the export name.
func (o Operation) String() string {
	switch o {
	case OpHTTPRequest:
		return "http_request"
	case OpReadFile:
		return "read_file"
	case OpWriteFile:
		return "write_file"
	case OpGetEnv:
		return "get_env"
	case OpLogMessage:
		return "log_message"
	default:
		return "unknown"
	}
}

// HasResult reports whether the export returns a packed response.
func (o Operation) HasResult() bool {
	return o != OpLogMessage
}

type contextKey struct {
	name string
}

var (
	sandboxKey      = &contextKey{name: "sandbox"}
	invocationIDKey = &contextKey{name: "invocation_id"}
)

// WithSandbox attaches the calling plugin's sandbox to ctx. Host functions
// refuse every call whose context carries no sandbox.
func WithSandbox(ctx context.Context, sb *sandbox.Sandbox) context.Context {
	return context.WithValue(ctx, sandboxKey, sb)
}

// SandboxFromContext retrieves the sandbox attached by WithSandbox.
func SandboxFromContext(ctx context.Context) (*sandbox.Sandbox, bool) {
	sb, ok := ctx.Value(sandboxKey).(*sandbox.Sandbox)
	return sb, ok && sb != nil
}

// WithInvocationID tags ctx with the id of the current guest invocation.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey, id)
}

// InvocationIDFromContext returns the invocation id, or "".
func InvocationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(invocationIDKey).(string)
	return id
}
