package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
)

// GetEnv returns an allowed environment variable. Refusals are audited but
// look exactly like an unset variable to the guest.
func (d *Dispatcher) GetEnv(ctx context.Context, sb *sandbox.Sandbox, req EnvRequestWire) EnvResponseWire {
	started := d.now()
	res := sb.ValidateEnvAccess(req.Name)

	rec := audit.Record{
		Timestamp:    started,
		PluginID:     sb.PluginID(),
		InvocationID: InvocationIDFromContext(ctx),
		Function:     OpGetEnv.String(),
		Args:         req.Name,
		Status:       audit.StatusAllowed,
		Detail:       string(res.Outcome),
	}
	if res.Denied() {
		rec.Status = audit.StatusDenied
		rec.Kind = string(sandbox.KindEnvDenied)
	}
	if res.Sensitive {
		rec.Warning = "variable name suggests a credential"
		slog.WarnContext(ctx, "plugin read a variable that looks like a credential", "plugin", sb.PluginID(), "name", req.Name)
	}
	rec.Duration = d.now().Sub(started)
	d.sink.Record(ctx, rec)

	return EnvResponseWire{Value: res.Value, Present: res.Present}
}
