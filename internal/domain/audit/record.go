// Package audit defines the record written for every host function call.
package audit

import (
	"context"
	"time"
)

// Status is the outcome of a host function call.
type Status string

const (
	StatusAllowed Status = "allowed"
	StatusDenied  Status = "denied"
	StatusError   Status = "error"
)

// Record describes one host function call. Args is a short summary of the
// arguments, never the full payload.
type Record struct {
	Timestamp    time.Time     `json:"timestamp"`
	PluginID     string        `json:"plugin_id"`
	InvocationID string        `json:"invocation_id,omitempty"`
	Function     string        `json:"function"`
	Args         string        `json:"args,omitempty"`
	Status       Status        `json:"status"`
	Kind         string        `json:"kind,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Duration     time.Duration `json:"duration_ns,omitempty"`
	Warning      string        `json:"warning,omitempty"`
}

// Sink receives audit records. Implementations must write each record
// atomically and be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, rec Record)
}

// Discard drops every record.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, Record) {}
