package wasm

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
	"github.com/reglet-dev/warden/internal/infrastructure/metrics"
	"github.com/reglet-dev/warden/internal/infrastructure/wasm/hostfuncs"
)

// Plugin is one loaded guest with its own runtime, sandbox and budget.
// Calls into a plugin are serialized; different plugins run concurrently.
type Plugin struct {
	id       string
	sandbox  *sandbox.Sandbox
	governor *Governor
	runtime  wazero.Runtime
	module   wazero.CompiledModule
	sink     audit.Sink
	stdout   io.Writer
	stderr   io.Writer

	mu       sync.Mutex
	instance api.Module
	closed   bool
}

// ID returns the plugin id from its manifest.
func (p *Plugin) ID() string {
	return p.id
}

// Sandbox returns the plugin's sandbox.
func (p *Plugin) Sandbox() *sandbox.Sandbox {
	return p.sandbox
}

// Exports lists the functions the guest exports.
func (p *Plugin) Exports() []string {
	defs := p.module.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	return names
}

// Invoke calls export with raw wasm values and returns its raw results.
func (p *Plugin) Invoke(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	var results []uint64
	err := p.run(ctx, export, func(ctx context.Context, mod api.Module, fn api.Function) error {
		var err error
		results, err = fn.Call(ctx, params...)
		return err
	})
	return results, err
}

// Call passes input to export through guest memory and returns the output.
// Exports may take (ptr, len) or nothing, and may return a packed ptr+len
// (i64), a number (i32) or nothing.
func (p *Plugin) Call(ctx context.Context, export string, input []byte) ([]byte, error) {
	var output []byte
	err := p.run(ctx, export, func(ctx context.Context, mod api.Module, fn api.Function) error {
		def := fn.Definition()

		var params []uint64
		switch len(def.ParamTypes()) {
		case 0:
		case 2:
			ptr, err := writeToMemory(ctx, mod, input)
			if err != nil {
				return err
			}
			defer deallocate(ctx, mod, ptr, uint32(len(input))) //nolint:gosec // G115: bounded by guest memory
			params = []uint64{uint64(ptr), uint64(len(input))}
		default:
			return fmt.Errorf("export %s must take (ptr, len) or no parameters", export)
		}

		results, err := fn.Call(ctx, params...)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return nil
		}

		switch def.ResultTypes()[0] {
		case api.ValueTypeI64:
			ptr := uint32(results[0] >> 32) //nolint:gosec // G115: WASM32 pointers are always 32-bit
			size := uint32(results[0])      //nolint:gosec // G115: WASM32 lengths are always 32-bit
			if ptr == 0 || size == 0 {
				return nil
			}
			output, err = readFromMemory(ctx, mod, ptr, size)
			return err
		case api.ValueTypeI32:
			output = []byte(strconv.FormatInt(int64(api.DecodeI32(results[0])), 10))
			return nil
		default:
			return fmt.Errorf("export %s returns an unsupported type", export)
		}
	})
	return output, err
}

// run executes one invocation under the governor: the instance's fuel
// counter refilled, timeout, sandbox and invocation id on the context, and
// instance recovery after anything but a clean completion.
func (p *Plugin) run(ctx context.Context, export string, call func(context.Context, api.Module, api.Function) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("plugin %s is unloaded", p.id)
	}

	invocationID := uuid.NewString()
	ctx = hostfuncs.WithSandbox(ctx, p.sandbox)
	ctx = hostfuncs.WithInvocationID(ctx, invocationID)
	ctx, meter, cancel := p.governor.Begin(ctx)
	defer cancel()

	started := time.Now()
	mod, err := p.ensureInstance(ctx)
	if err != nil {
		outcome := p.governor.Classify(ctx, err, nil, nil)
		if outcome == OutcomeCompleted {
			outcome = OutcomeTrapped
		}
		p.finish(ctx, export, invocationID, outcome, err, started, meter)
		return &InvocationError{Plugin: p.id, Export: export, Outcome: outcome, Err: err}
	}

	fn := mod.ExportedFunction(export)
	if fn == nil {
		return fmt.Errorf("plugin %s does not export %s()", p.id, export)
	}
	if err := meter.attach(mod); err != nil {
		return fmt.Errorf("plugin %s: %w", p.id, err)
	}

	err = call(ctx, mod, fn)
	outcome := p.governor.Classify(ctx, err, meter, mod.Memory())
	p.finish(ctx, export, invocationID, outcome, err, started, meter)

	if err == nil {
		return nil
	}
	if outcome == OutcomeCompleted {
		// guest exited cleanly through proc_exit; the instance is gone
		p.instance = nil
		return nil
	}
	return &InvocationError{Plugin: p.id, Export: export, Outcome: outcome, Err: err}
}

// finish records the invocation and drops an instance that did not
// complete cleanly, since its state may be inconsistent.
func (p *Plugin) finish(ctx context.Context, export, invocationID string, outcome Outcome, err error, started time.Time, meter *FuelMeter) {
	elapsed := time.Since(started)
	metrics.RecordInvocation(p.id, string(outcome), elapsed)

	if outcome == OutcomeCompleted && err == nil {
		slog.DebugContext(ctx, "plugin invocation completed",
			"plugin", p.id, "export", export, "fuel", meter.Consumed(), "duration", elapsed)
		return
	}

	if p.instance != nil {
		// ctx may already be done; close with a fresh one
		_ = p.instance.Close(context.WithoutCancel(ctx))
		p.instance = nil
	}

	rec := audit.Record{
		Timestamp:    started,
		PluginID:     p.id,
		InvocationID: invocationID,
		Function:     export,
		Status:       audit.StatusError,
		Detail:       string(outcome),
		Duration:     elapsed,
	}
	if kind, ok := outcome.Kind(); ok {
		rec.Kind = string(kind)
	}
	p.sink.Record(context.WithoutCancel(ctx), rec)

	slog.WarnContext(ctx, "plugin invocation did not complete",
		"plugin", p.id, "export", export, "outcome", outcome, "fuel", meter.Consumed(), "error", err)
}

// ensureInstance returns the live instance, instantiating it on first use
// or after a failed invocation.
func (p *Plugin) ensureInstance(ctx context.Context) (api.Module, error) {
	if p.instance != nil {
		return p.instance, nil
	}

	config := wazero.NewModuleConfig().
		WithName(""). // anonymous, so re-instantiation never collides
		WithStartFunctions("_initialize").
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader).
		WithStdout(p.stdout).
		WithStderr(p.stderr)

	instance, err := p.runtime.InstantiateModule(ctx, p.module, config)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate plugin %s: %w", p.id, err)
	}
	p.instance = instance
	return instance, nil
}

// close releases the plugin's runtime. Waits for a running invocation.
func (p *Plugin) close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.instance = nil
	return p.runtime.Close(ctx)
}

// writeToMemory allocates guest memory and copies data into it.
func writeToMemory(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	allocateFn := mod.ExportedFunction("allocate")
	if allocateFn == nil {
		return 0, errors.New("plugin does not export allocate() function")
	}

	results, err := allocateFn.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate memory: %w", err)
	}
	if len(results) == 0 {
		return 0, errors.New("allocate() returned no results")
	}

	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit
	if ptr == 0 && len(data) > 0 {
		return 0, errors.New("allocate() returned null pointer")
	}
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("failed to write to WASM memory at offset %d", ptr)
	}
	return ptr, nil
}

// readFromMemory copies a guest result out and releases it.
func readFromMemory(ctx context.Context, mod api.Module, ptr, size uint32) ([]byte, error) {
	defer deallocate(ctx, mod, ptr, size)

	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("failed to read memory at offset %d", ptr)
	}
	result := make([]byte, size)
	copy(result, data)
	return result, nil
}

// deallocate is best effort; guests without a deallocate export leak.
func deallocate(ctx context.Context, mod api.Module, ptr, size uint32) {
	// Prevent cleanup panic from clobbering an existing panic
	defer func() {
		_ = recover()
	}()

	if fn := mod.ExportedFunction("deallocate"); fn != nil {
		//nolint:errcheck,gosec // G104: Deallocation is best-effort cleanup
		fn.Call(ctx, uint64(ptr), uint64(size))
	}
}
