// Package wireformat defines the JSON wire format structures exchanged between
// the warden host and guest plugins. These types are the ABI contract and must
// remain backward compatible.
package wireformat

import "fmt"

// HTTPRequestWire is the JSON wire format for an HTTP request from Guest to Host.
type HTTPRequestWire struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"` // base64 in JSON
}

// HTTPResponseWire is the JSON wire format for an HTTP response from Host to Guest.
type HTTPResponseWire struct {
	StatusCode int                 `json:"status_code,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body,omitempty"`
	Error      *ErrorDetail        `json:"error,omitempty"`
}

// ReadFileRequestWire asks the host for the contents of a file.
type ReadFileRequestWire struct {
	Path string `json:"path"`
}

// ReadFileResponseWire carries file contents or an error.
type ReadFileResponseWire struct {
	Content []byte       `json:"content,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// WriteFileRequestWire asks the host to create or replace a file.
type WriteFileRequestWire struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// WriteFileResponseWire reports the outcome of a write.
type WriteFileResponseWire struct {
	OK    bool         `json:"ok"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// EnvRequestWire asks for a single environment variable.
type EnvRequestWire struct {
	Name string `json:"name"`
}

// EnvResponseWire never carries an error: a denied variable and an unset one
// look the same to the guest.
type EnvResponseWire struct {
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present"`
}

// LogMessageWire is a guest log line. Level follows syslog-style numeric
// severity: 0 error, 1 warn, 2 info, 3 debug.
type LogMessageWire struct {
	Level   int    `json:"level"`
	Message string `json:"message"`
}

// ErrorDetail is the error returned to the guest. Kind is one of the sandbox
// error kinds ("host_not_allowed", "rate_limited", ...).
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error implements the error interface for ErrorDetail.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
