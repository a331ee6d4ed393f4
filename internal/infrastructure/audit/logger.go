// Package audit writes host function audit records to one or more
// destinations.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/infrastructure/redaction"
)

// Destination persists records. Write must emit a record in one write.
type Destination interface {
	Write(rec audit.Record) error
	Close() error
}

// Logger fans records out to its destinations synchronously, so a record is
// persisted before the host function returns to the guest.
type Logger struct {
	mu           sync.RWMutex
	destinations []Destination
	redactor     *redaction.Redactor
	closed       bool
}

// Config selects the audit destinations.
type Config struct {
	Destinations []DestinationConfig `yaml:"destinations,omitempty"`
}

// DestinationConfig configures one destination.
type DestinationConfig struct {
	Type string `yaml:"type"` // file, stderr, slog
	Path string `yaml:"path,omitempty"`
}

// NewLogger builds a logger from cfg. With no destinations configured the
// records go to slog.
func NewLogger(cfg Config, redactor *redaction.Redactor) (*Logger, error) {
	l := &Logger{redactor: redactor}

	if len(cfg.Destinations) == 0 {
		l.destinations = append(l.destinations, NewSlogDestination(slog.Default()))
		return l, nil
	}

	for _, dc := range cfg.Destinations {
		dest, err := createDestination(dc)
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("failed to create %s audit destination: %w", dc.Type, err)
		}
		l.destinations = append(l.destinations, dest)
	}
	return l, nil
}

// NewLoggerWith builds a logger over already constructed destinations.
func NewLoggerWith(redactor *redaction.Redactor, destinations ...Destination) *Logger {
	return &Logger{destinations: destinations, redactor: redactor}
}

func createDestination(dc DestinationConfig) (Destination, error) {
	switch dc.Type {
	case "file":
		return NewFileDestination(dc.Path)
	case "stderr":
		return NewStderrDestination(), nil
	case "slog":
		return NewSlogDestination(slog.Default()), nil
	default:
		return nil, fmt.Errorf("unknown destination type: %s", dc.Type)
	}
}

// Record implements audit.Sink. Destination failures are reported through
// slog and never reach the guest.
func (l *Logger) Record(ctx context.Context, rec audit.Record) {
	rec.Args = l.redactor.ScrubString(rec.Args)
	rec.Detail = l.redactor.ScrubString(rec.Detail)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		slog.WarnContext(ctx, "audit record after close", "plugin", rec.PluginID, "function", rec.Function)
		return
	}
	for _, dest := range l.destinations {
		if err := dest.Write(rec); err != nil {
			slog.ErrorContext(ctx, "failed to write audit record", "error", err, "plugin", rec.PluginID)
		}
	}
}

// Close closes every destination.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	for _, dest := range l.destinations {
		if err := dest.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
