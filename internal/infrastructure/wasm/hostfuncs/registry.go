package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
)

// HostModuleName is the import module guests link against.
const HostModuleName = "warden_host"

// maxPayloadBytes bounds a single request read from guest memory. It leaves
// room for JSON framing around the largest write_file body.
const maxPayloadBytes = 3 * sandbox.MaxWriteFileBytes

// RegisterHostFunctions instantiates the "warden_host" module in runtime.
// The sandbox of the calling plugin is taken from the invocation context.
func RegisterHostFunctions(ctx context.Context, runtime wazero.Runtime, d *Dispatcher) error {
	builder := runtime.NewHostModuleBuilder(HostModuleName)

	for _, op := range Operations {
		var results []api.ValueType
		if op.HasResult() {
			results = []api.ValueType{api.ValueTypeI64}
		}

		// Parameters: requestPacked (i64) - packed ptr+len of the request JSON
		// Returns: responsePacked (i64) - packed ptr+len of the response JSON
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				d.call(ctx, mod, stack, op)
			}), []api.ValueType{api.ValueTypeI64}, results).
			Export(op.String())
	}

	_, err := builder.Instantiate(ctx)
	return err
}

// call bridges one guest import to Dispatch.
func (d *Dispatcher) call(ctx context.Context, mod api.Module, stack []uint64, op Operation) {
	reply := func(resp any) {
		if op.HasResult() {
			stack[0] = hostWriteResponse(ctx, mod, resp)
		}
	}

	sb, ok := SandboxFromContext(ctx)
	if !ok {
		slog.ErrorContext(ctx, "hostfuncs: call without sandbox refused", "function", op.String())
		d.sink.Record(ctx, audit.Record{
			Timestamp: d.now(),
			Function:  op.String(),
			Status:    audit.StatusDenied,
			Detail:    "no sandbox bound to caller",
		})
		reply(errorResponse(op, &ErrorDetail{Kind: "internal", Message: "no sandbox bound to caller"}))
		return
	}

	ptr, length := unpackPtrLen(stack[0])
	if length > maxPayloadBytes {
		err := &sandbox.Error{Kind: sandbox.KindBodyTooLarge, Message: "request payload too large"}
		d.record(ctx, sb, op, "", audit.StatusDenied, err, d.now())
		reply(errorResponse(op, toErrorDetail(err)))
		return
	}
	payload, ok := mod.Memory().Read(ptr, length)
	if !ok {
		slog.ErrorContext(ctx, "hostfuncs: request out of guest memory bounds", "function", op.String(), "ptr", ptr, "len", length)
		reply(errorResponse(op, &ErrorDetail{Kind: "internal", Message: "request out of bounds"}))
		return
	}
	// Read returns a view into guest memory, which the guest may mutate
	// during re-entrant calls such as allocate.
	payload = append([]byte(nil), payload...)

	resp := d.Dispatch(ctx, sb, op, payload)
	if !op.HasResult() {
		return
	}
	stack[0] = writeRaw(ctx, mod, resp)
}
