package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
	"github.com/reglet-dev/warden/internal/infrastructure/redaction"
	"github.com/reglet-dev/warden/internal/version"
)

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Dispatcher routes guest calls to their sandbox check and performs the
// bounded real operation. It holds no per-plugin state; the sandbox travels
// with each call.
type Dispatcher struct {
	sink      audit.Sink
	redactor  *redaction.Redactor
	version   version.Info
	logger    *slog.Logger
	resolver  Resolver
	isBlocked func(netip.Addr) bool
	// throttles the host-side warning for dropped guest logs
	dropWarn *rate.Limiter
	now      func() time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRedactor scrubs guest log lines and audit summaries.
func WithRedactor(r *redaction.Redactor) Option {
	return func(d *Dispatcher) { d.redactor = r }
}

// WithVersion sets the build info used in the outbound User-Agent.
func WithVersion(v version.Info) Option {
	return func(d *Dispatcher) { d.version = v }
}

// WithLogger sets the logger guest log lines are emitted to.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithResolver replaces the DNS resolver used for address pinning.
func WithResolver(r Resolver) Option {
	return func(d *Dispatcher) { d.resolver = r }
}

// WithAddressFilter replaces the dial-time address check. The default
// refuses every address sandbox.IsPrivateIP classifies as private.
func WithAddressFilter(blocked func(netip.Addr) bool) Option {
	return func(d *Dispatcher) { d.isBlocked = blocked }
}

// NewDispatcher creates a dispatcher that audits to sink.
func NewDispatcher(sink audit.Sink, opts ...Option) *Dispatcher {
	if sink == nil {
		sink = audit.Discard{}
	}
	d := &Dispatcher{
		sink:      sink,
		version:   version.Get(),
		logger:    slog.Default(),
		resolver:  net.DefaultResolver,
		isBlocked: sandbox.IsPrivateIP,
		dropWarn:  rate.NewLimiter(rate.Every(10*time.Second), 1),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decodes payload for op, runs it under sb and returns the JSON
// response (nil for log_message). A panic in any handler is converted to an
// internal error so a hostile guest cannot take the host down.
func (d *Dispatcher) Dispatch(ctx context.Context, sb *sandbox.Sandbox, op Operation, payload []byte) (resp []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "hostfuncs: recovered panic in host function",
				"function", op.String(), "panic", r, "stack", string(debug.Stack()))
			d.record(ctx, sb, op, "", audit.StatusError, fmt.Errorf("internal error"), time.Time{})
			resp = marshalResponse(ctx, errorResponse(op, &ErrorDetail{Kind: "internal", Message: "host function failed"}))
		}
	}()

	switch op {
	case OpHTTPRequest:
		var req HTTPRequestWire
		if err := json.Unmarshal(payload, &req); err != nil {
			return d.malformed(ctx, sb, op, err)
		}
		return marshalResponse(ctx, d.HTTPRequest(ctx, sb, req))

	case OpReadFile:
		var req ReadFileRequestWire
		if err := json.Unmarshal(payload, &req); err != nil {
			return d.malformed(ctx, sb, op, err)
		}
		return marshalResponse(ctx, d.ReadFile(ctx, sb, req))

	case OpWriteFile:
		var req WriteFileRequestWire
		if err := json.Unmarshal(payload, &req); err != nil {
			return d.malformed(ctx, sb, op, err)
		}
		return marshalResponse(ctx, d.WriteFile(ctx, sb, req))

	case OpGetEnv:
		var req EnvRequestWire
		if err := json.Unmarshal(payload, &req); err != nil {
			return d.malformed(ctx, sb, op, err)
		}
		return marshalResponse(ctx, d.GetEnv(ctx, sb, req))

	case OpLogMessage:
		var msg LogMessageWire
		if err := json.Unmarshal(payload, &msg); err != nil {
			d.malformed(ctx, sb, op, err)
			return nil
		}
		d.LogMessage(ctx, sb, msg)
		return nil

	default:
		return marshalResponse(ctx, &ErrorDetail{Kind: "internal", Message: "unknown host function"})
	}
}

func (d *Dispatcher) malformed(ctx context.Context, sb *sandbox.Sandbox, op Operation, err error) []byte {
	d.record(ctx, sb, op, "", audit.StatusError, fmt.Errorf("malformed request: %w", err), time.Time{})
	return marshalResponse(ctx, errorResponse(op, &ErrorDetail{Kind: "internal", Message: "malformed request"}))
}

// record writes the audit record for one call. started may be zero.
func (d *Dispatcher) record(ctx context.Context, sb *sandbox.Sandbox, op Operation, args string, status audit.Status, err error, started time.Time) {
	rec := audit.Record{
		Timestamp:    d.now(),
		PluginID:     sb.PluginID(),
		InvocationID: InvocationIDFromContext(ctx),
		Function:     op.String(),
		Args:         args,
		Status:       status,
	}
	if !started.IsZero() {
		rec.Duration = d.now().Sub(started)
	}
	if err != nil {
		if kind, ok := sandbox.KindOf(err); ok {
			rec.Kind = string(kind)
		}
		rec.Detail = err.Error()
	}
	d.sink.Record(ctx, rec)
}

// statusFor maps a failed call to its audit status.
func statusFor(err error) audit.Status {
	if kind, ok := sandbox.KindOf(err); ok && kind.Category() != sandbox.CategoryInput {
		return audit.StatusDenied
	}
	return audit.StatusError
}

func marshalResponse(ctx context.Context, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "hostfuncs: failed to marshal response", "error", err)
		return []byte(`{"error":{"kind":"internal","message":"failed to marshal response"}}`)
	}
	return data
}
