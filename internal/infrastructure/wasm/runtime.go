package wasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
	"github.com/reglet-dev/warden/internal/infrastructure/redaction"
	"github.com/reglet-dev/warden/internal/infrastructure/wasm/hostfuncs"
)

// globalCache speeds up compilation across runtimes.
var globalCache = wazero.NewCompilationCache()

// ErrPluginLoaded is returned when loading an id that is already loaded.
var ErrPluginLoaded = errors.New("plugin already loaded")

// Host owns the loaded plugins. Each plugin gets its own wazero runtime so
// memory limits and teardown are per plugin.
type Host struct {
	dispatcher *hostfuncs.Dispatcher
	sink       audit.Sink
	redactor   *redaction.Redactor
	output     io.Writer
	sandboxOps []sandbox.Option

	mu      sync.RWMutex // Protects plugins map from concurrent access
	plugins map[string]*Plugin
	loads   singleflight.Group
}

// HostOption customizes a Host.
type HostOption func(*Host)

// WithAuditSink records invocation failures. Host function calls are
// audited by the dispatcher.
func WithAuditSink(sink audit.Sink) HostOption {
	return func(h *Host) { h.sink = sink }
}

// WithOutputRedactor scrubs guest stdout and stderr.
func WithOutputRedactor(r *redaction.Redactor) HostOption {
	return func(h *Host) { h.redactor = r }
}

// WithOutput sets where guest stdout and stderr go. Defaults to os.Stderr.
func WithOutput(w io.Writer) HostOption {
	return func(h *Host) { h.output = w }
}

// WithSandboxOptions is passed to every sandbox the host creates.
func WithSandboxOptions(opts ...sandbox.Option) HostOption {
	return func(h *Host) { h.sandboxOps = append(h.sandboxOps, opts...) }
}

// NewHost creates an empty host whose guests call into d.
func NewHost(d *hostfuncs.Dispatcher, opts ...HostOption) *Host {
	h := &Host{
		dispatcher: d,
		sink:       audit.Discard{},
		output:     os.Stderr,
		plugins:    make(map[string]*Plugin),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LoadPlugin compiles spec.Module and prepares its sandbox. Concurrent
// loads of the same id share one compilation.
func (h *Host) LoadPlugin(ctx context.Context, spec PluginSpec) (*Plugin, error) {
	if spec.ID == "" {
		return nil, errors.New("plugin id is required")
	}

	h.mu.RLock()
	_, loaded := h.plugins[spec.ID]
	h.mu.RUnlock()
	if loaded {
		return nil, fmt.Errorf("%w: %s", ErrPluginLoaded, spec.ID)
	}

	v, err, _ := h.loads.Do(spec.ID, func() (any, error) {
		p, err := h.load(ctx, spec)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.plugins[spec.ID]; ok {
			_ = p.close(ctx)
			return nil, fmt.Errorf("%w: %s", ErrPluginLoaded, spec.ID)
		}
		h.plugins[spec.ID] = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Plugin), nil //nolint:forcetypeassert // only *Plugin is stored
}

func (h *Host) load(ctx context.Context, spec PluginSpec) (*Plugin, error) {
	resources, clamped := spec.Resources.Normalize()
	for _, field := range clamped {
		slog.WarnContext(ctx, "resource limit above hard maximum was clamped", "plugin", spec.ID, "field", field)
	}

	governor := NewGovernor(resources)
	if err := governor.CheckModule(spec.Module); err != nil {
		return nil, fmt.Errorf("failed to load plugin %s: %w", spec.ID, err)
	}
	metered, err := governor.Instrument(spec.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to meter plugin %s: %w", spec.ID, err)
	}

	r := wazero.NewRuntimeWithConfig(ctx, governor.RuntimeConfig())

	// Instantiate WASI for system calls (clock, random, etc.).
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}
	if err := hostfuncs.RegisterHostFunctions(ctx, r, h.dispatcher); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	compiled, err := r.CompileModule(ctx, metered)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to compile plugin %s: %w", spec.ID, err)
	}

	var out io.Writer = h.output
	if h.redactor != nil {
		out = redaction.NewWriter(h.output, h.redactor)
	}

	slog.DebugContext(ctx, "plugin loaded", "plugin", spec.ID,
		"memory_pages", resources.MemoryPages(), "max_fuel", resources.MaxFuel)

	return &Plugin{
		id:       spec.ID,
		sandbox:  sandbox.New(spec.ID, spec.Permissions, resources, h.sandboxOps...),
		governor: governor,
		runtime:  r,
		module:   compiled,
		sink:     h.sink,
		stdout:   out,
		stderr:   out,
	}, nil
}

// Get retrieves a loaded plugin by id.
func (h *Host) Get(id string) (*Plugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[id]
	return p, ok
}

// Plugins returns the loaded plugin ids in sorted order.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.plugins))
	for id := range h.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unload closes a plugin and drops its sandbox. Its rate counters are not
// carried over to a later load of the same id.
func (h *Host) Unload(ctx context.Context, id string) error {
	h.mu.Lock()
	p, ok := h.plugins[id]
	delete(h.plugins, id)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("plugin %s is not loaded", id)
	}
	return p.close(ctx)
}

// Close unloads every plugin concurrently.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	plugins := h.plugins
	h.plugins = make(map[string]*Plugin)
	h.mu.Unlock()

	var g errgroup.Group
	for _, p := range plugins {
		g.Go(func() error {
			return p.close(ctx)
		})
	}
	return g.Wait()
}
