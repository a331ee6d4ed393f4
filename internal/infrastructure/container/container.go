// Package container provides dependency injection for the application.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/reglet-dev/warden/internal/application/ports"
	"github.com/reglet-dev/warden/internal/application/services"
	"github.com/reglet-dev/warden/internal/domain/permissions"
	"github.com/reglet-dev/warden/internal/infrastructure/audit"
	"github.com/reglet-dev/warden/internal/infrastructure/capabilities"
	"github.com/reglet-dev/warden/internal/infrastructure/manifest"
	"github.com/reglet-dev/warden/internal/infrastructure/metrics"
	"github.com/reglet-dev/warden/internal/infrastructure/redaction"
	"github.com/reglet-dev/warden/internal/infrastructure/system"
	"github.com/reglet-dev/warden/internal/infrastructure/wasm"
	"github.com/reglet-dev/warden/internal/infrastructure/wasm/hostfuncs"
	"github.com/reglet-dev/warden/internal/version"
)

// Container holds all application dependencies.
type Container struct {
	systemCfg *system.Config
	approvals *services.ApprovalService
	grants    ports.GrantStore
	auditLog  *audit.Logger
	host      *wasm.Host
	metrics   *http.Server
	logger    *slog.Logger
}

// Options configure the container.
type Options struct {
	Logger           *slog.Logger
	SecurityLevel    string
	SystemConfigPath string
	// MetricsAddr overrides metrics.listen from the config file.
	MetricsAddr string
	// Prompter overrides the terminal prompter.
	Prompter ports.Prompter
	// GrantStore overrides the grants file.
	GrantStore ports.GrantStore
	// HostOptions are appended to the defaults.
	HostOptions []wasm.HostOption
}

// New creates a new dependency injection container.
func New(opts Options) (*Container, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	systemCfg, err := system.NewConfigLoader().Load(opts.SystemConfigPath)
	if err != nil {
		return nil, err
	}

	redactor, err := redaction.New(systemCfg.Redaction.RedactorConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build redactor: %w", err)
	}

	auditLog, err := audit.NewLogger(systemCfg.Audit, redactor)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	sink := metrics.NewAuditSink(auditLog)

	// Command-line flag takes precedence over config file
	level := systemCfg.Security.GetSecurityLevel()
	if opts.SecurityLevel != "" {
		level = permissions.ParseSecurityLevel(opts.SecurityLevel)
	}

	store := opts.GrantStore
	if store == nil {
		store = capabilities.NewFileStore(systemCfg.GrantsFile)
	}
	prompter := opts.Prompter
	if prompter == nil {
		prompter = capabilities.NewTerminalPrompter()
	}
	approvals, err := services.NewApprovalService(store, prompter, level, systemCfg.Security.AutoApprove)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}

	dispatcher := hostfuncs.NewDispatcher(sink,
		hostfuncs.WithRedactor(redactor),
		hostfuncs.WithVersion(version.Get()),
		hostfuncs.WithLogger(opts.Logger),
	)
	hostOpts := append([]wasm.HostOption{
		wasm.WithAuditSink(sink),
		wasm.WithOutputRedactor(redactor),
	}, opts.HostOptions...)

	c := &Container{
		systemCfg: systemCfg,
		approvals: approvals,
		grants:    store,
		auditLog:  auditLog,
		host:      wasm.NewHost(dispatcher, hostOpts...),
		logger:    opts.Logger,
	}

	addr := systemCfg.Metrics.Listen
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		if err := c.serveMetrics(addr); err != nil {
			_ = auditLog.Close()
			return nil, err
		}
	}
	return c, nil
}

// Config returns the loaded system configuration.
func (c *Container) Config() *system.Config { return c.systemCfg }

// Approvals returns the approval service.
func (c *Container) Approvals() *services.ApprovalService { return c.approvals }

// Grants returns the approval store.
func (c *Container) Grants() ports.GrantStore { return c.grants }

// Host returns the plugin host.
func (c *Container) Host() *wasm.Host { return c.host }

// LoadPlugin reads the manifest at path, reviews its permissions and loads
// the module. Nothing is compiled until the operator has approved.
func (c *Container) LoadPlugin(ctx context.Context, path string, trustAll bool) (*wasm.Plugin, *manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if _, err := c.approvals.Review(ctx, services.ApprovalRequest{
		Plugin:      m.Name,
		Version:     m.SemVer(),
		Permissions: m.Permissions,
		TrustAll:    trustAll,
	}); err != nil {
		return nil, m, err
	}

	module, err := m.ReadModule()
	if err != nil {
		return nil, m, err
	}

	p, err := c.host.LoadPlugin(ctx, wasm.PluginSpec{
		ID:          m.Name,
		Permissions: m.Permissions,
		Resources:   m.Resources,
		Module:      module,
	})
	if err != nil {
		return nil, m, err
	}
	c.logger.DebugContext(ctx, "plugin loaded", "plugin", m.Name, "version", m.Version, "exports", p.Exports())
	return p, m, nil
}

func (c *Container) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	c.metrics = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := c.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server stopped", "error", err)
		}
	}()
	c.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// Close unloads every plugin, stops the metrics server and flushes the
// audit log.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if err := c.host.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.metrics != nil {
		if err := c.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.auditLog.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
