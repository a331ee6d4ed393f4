package wasm

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/reglet-dev/warden/internal/domain/permissions"
)

const wasmPageSize = 65536

// Governor applies one plugin's resource budget to its runtime and
// invocations.
type Governor struct {
	resources permissions.ResourceConfig
}

// NewGovernor returns a governor for res, which must already be normalized.
func NewGovernor(res permissions.ResourceConfig) *Governor {
	return &Governor{resources: res}
}

// RuntimeConfig caps linear memory and tears executions down when their
// context ends.
func (g *Governor) RuntimeConfig() wazero.RuntimeConfig {
	return wazero.NewRuntimeConfig().
		WithCompilationCache(globalCache).
		WithMemoryLimitPages(g.resources.MemoryPages()).
		WithCloseOnContextDone(true)
}

// CheckModule enforces the load-time limits wazero cannot express.
func (g *Governor) CheckModule(module []byte) error {
	return checkTables(module, g.resources.MaxTableElements)
}

// Instrument returns module with fuel metering compiled in.
func (g *Governor) Instrument(module []byte) ([]byte, error) {
	return meterFuel(module, g.resources.MaxFuel)
}

// Begin starts an invocation: a fresh fuel budget and the execution timeout.
// The meter takes effect once attached to the instance.
func (g *Governor) Begin(ctx context.Context) (context.Context, *FuelMeter, context.CancelFunc) {
	meter := &FuelMeter{budget: g.resources.MaxFuel}
	ctx, cancel := context.WithTimeout(ctx, g.resources.ExecutionTimeout())
	return ctx, meter, cancel
}

// Classify maps the error from a guest call to an outcome. meter and mem
// may be nil.
func (g *Governor) Classify(ctx context.Context, err error, meter *FuelMeter, mem api.Memory) Outcome {
	if err == nil {
		return OutcomeCompleted
	}
	if meter.Exhausted() {
		return OutcomeFuelExhausted
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 0:
			return OutcomeCompleted
		case sys.ExitCodeDeadlineExceeded:
			return OutcomeTimedOut
		case sys.ExitCodeContextCanceled:
			return OutcomeCanceled
		}
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return OutcomeTimedOut
	case errors.Is(ctx.Err(), context.Canceled):
		return OutcomeCanceled
	}

	// A guest that cannot grow memory aborts with a trap; treat a trap
	// taken within one page of the ceiling as memory exhaustion.
	if mem != nil {
		limit := uint64(g.resources.MemoryPages()) * wasmPageSize
		if uint64(mem.Size())+wasmPageSize > limit {
			return OutcomeMemoryExceeded
		}
	}
	return OutcomeTrapped
}
