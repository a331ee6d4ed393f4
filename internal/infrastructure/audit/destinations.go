package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/reglet-dev/warden/internal/domain/audit"
)

// WriterDestination writes JSON lines to an io.Writer.
type WriterDestination struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewWriterDestination writes to w. Close does not close w.
func NewWriterDestination(w io.Writer) *WriterDestination {
	return &WriterDestination{w: w}
}

// NewStderrDestination writes JSON lines to stderr.
func NewStderrDestination() *WriterDestination {
	return NewWriterDestination(os.Stderr)
}

// NewFileDestination appends JSON lines to path, creating it with 0600.
func NewFileDestination(path string) (*WriterDestination, error) {
	if path == "" {
		return nil, fmt.Errorf("file destination requires path")
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // G304: operator-configured path
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &WriterDestination{w: f, closer: f}, nil
}

// Write marshals rec and emits it with a single Write call.
func (d *WriterDestination) Write(rec audit.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	line = append(line, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.w.Write(line)
	return err
}

// Close closes the underlying file, if any.
func (d *WriterDestination) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// SlogDestination emits records as structured log lines.
type SlogDestination struct {
	logger *slog.Logger
}

// NewSlogDestination logs through logger.
func NewSlogDestination(logger *slog.Logger) *SlogDestination {
	return &SlogDestination{logger: logger}
}

// Write logs denials and errors at warn, everything else at info.
func (d *SlogDestination) Write(rec audit.Record) error {
	level := slog.LevelInfo
	if rec.Status != audit.StatusAllowed || rec.Warning != "" {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("plugin", rec.PluginID),
		slog.String("function", rec.Function),
		slog.String("status", string(rec.Status)),
	}
	if rec.InvocationID != "" {
		attrs = append(attrs, slog.String("invocation", rec.InvocationID))
	}
	if rec.Args != "" {
		attrs = append(attrs, slog.String("args", rec.Args))
	}
	if rec.Kind != "" {
		attrs = append(attrs, slog.String("kind", rec.Kind))
	}
	if rec.Detail != "" {
		attrs = append(attrs, slog.String("detail", rec.Detail))
	}
	if rec.Warning != "" {
		attrs = append(attrs, slog.String("warning", rec.Warning))
	}
	d.logger.LogAttrs(context.Background(), level, "audit", attrs...)
	return nil
}

// Close implements Destination.
func (d *SlogDestination) Close() error { return nil }
