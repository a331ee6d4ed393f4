package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/warden/internal/domain/sandbox"
	"github.com/reglet-dev/warden/wireformat"
)

type (
	// HTTPRequestWire is a re-export of wireformat.HTTPRequestWire
	HTTPRequestWire = wireformat.HTTPRequestWire
	// HTTPResponseWire is a re-export of wireformat.HTTPResponseWire
	HTTPResponseWire = wireformat.HTTPResponseWire
	// ReadFileRequestWire is a re-export of wireformat.ReadFileRequestWire
	ReadFileRequestWire = wireformat.ReadFileRequestWire
	// ReadFileResponseWire is a re-export of wireformat.ReadFileResponseWire
	ReadFileResponseWire = wireformat.ReadFileResponseWire
	// WriteFileRequestWire is a re-export of wireformat.WriteFileRequestWire
	WriteFileRequestWire = wireformat.WriteFileRequestWire
	// WriteFileResponseWire is a re-export of wireformat.WriteFileResponseWire
	WriteFileResponseWire = wireformat.WriteFileResponseWire
	// EnvRequestWire is a re-export of wireformat.EnvRequestWire
	EnvRequestWire = wireformat.EnvRequestWire
	// EnvResponseWire is a re-export of wireformat.EnvResponseWire
	EnvResponseWire = wireformat.EnvResponseWire
	// LogMessageWire is a re-export of wireformat.LogMessageWire
	LogMessageWire = wireformat.LogMessageWire
	// ErrorDetail is a re-export of wireformat.ErrorDetail
	ErrorDetail = wireformat.ErrorDetail
)

// toErrorDetail renders err in the form the guest receives. Sandbox errors
// keep their kind; anything else becomes a generic internal error.
func toErrorDetail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	kind, ok := sandbox.KindOf(err)
	if !ok {
		return &ErrorDetail{Kind: "internal", Message: err.Error()}
	}
	return &ErrorDetail{Kind: string(kind), Message: sandbox.GuestMessage(err)}
}

// errorResponse builds the error reply for op.
func errorResponse(op Operation, detail *ErrorDetail) any {
	switch op {
	case OpHTTPRequest:
		return HTTPResponseWire{Error: detail}
	case OpReadFile:
		return ReadFileResponseWire{Error: detail}
	case OpWriteFile:
		return WriteFileResponseWire{Error: detail}
	case OpGetEnv:
		return EnvResponseWire{}
	default:
		return nil
	}
}

// hostWriteResponse marshals response into guest memory through the guest's
// allocate export and returns the packed ptr+len. Zero means the response
// could not be delivered.
func hostWriteResponse(ctx context.Context, mod api.Module, response any) uint64 {
	data, err := json.Marshal(response)
	if err != nil {
		slog.ErrorContext(ctx, "hostfuncs: failed to marshal response", "error", err)
		data = []byte(fmt.Sprintf(`{"error":{"kind":"internal","message":%q}}`, "failed to marshal response"))
	}
	return writeRaw(ctx, mod, data)
}

// writeRaw copies already encoded data into guest memory.
func writeRaw(ctx context.Context, mod api.Module, data []byte) uint64 {
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		slog.ErrorContext(ctx, "hostfuncs: guest does not export allocate")
		return 0
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		slog.ErrorContext(ctx, "hostfuncs: guest allocate failed", "error", err)
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit

	if !mod.Memory().Write(ptr, data) {
		slog.ErrorContext(ctx, "hostfuncs: response does not fit guest memory", "size", len(data))
		return 0
	}
	return packPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: bounded by guest memory
}

// packPtrLen and unpackPtrLen match the guest SDK ABI.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32) //nolint:gosec // G115: packed format stores 32-bit values
	length = uint32(packed)    //nolint:gosec // G115: packed format stores 32-bit values
	return ptr, length
}
