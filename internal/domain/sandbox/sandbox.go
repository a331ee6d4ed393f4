// Package sandbox enforces a plugin's declared permissions on every host
// function call: network allowlisting and SSRF checks, filesystem
// confinement, environment filtering and per-plugin rate limits.
package sandbox

import (
	"net/url"
	"os"
	"time"

	"github.com/reglet-dev/warden/internal/domain/permissions"
)

// Sandbox is the per-plugin policy object. One is built when a plugin is
// instantiated and it is never shared with another plugin.
type Sandbox struct {
	pluginID  string
	perms     permissions.PluginPermissions
	resources permissions.ResourceConfig
	network   *NetworkAllowlist
	paths     *PathValidator
	env       *EnvValidator
	httpRate  *RateCounter
	logRate   *RateCounter
}

type options struct {
	now    func() time.Time
	lookup func(string) (string, bool)
}

// Option customizes a Sandbox.
type Option func(*options)

// WithClock replaces the time source used by the rate counters.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEnvLookup replaces the environment source (os.LookupEnv by default).
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = lookup }
}

// New builds a sandbox for pluginID. resources should already be normalized,
// which replaces unset limits with the defaults.
func New(pluginID string, perms permissions.PluginPermissions, resources permissions.ResourceConfig, opts ...Option) *Sandbox {
	o := options{now: time.Now, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	return &Sandbox{
		pluginID:  pluginID,
		perms:     perms,
		resources: resources,
		network:   NewNetworkAllowlist(perms.Network),
		paths:     NewPathValidator(perms.Filesystem),
		env:       NewEnvValidator(perms.EnvVars, o.lookup),
		httpRate:  newRateCounter(resources.MaxHTTPRequestsPerMinute, RateWindow, o.now),
		logRate:   newRateCounter(resources.MaxLogMessagesPerMinute, RateWindow, o.now),
	}
}

// PluginID returns the owning plugin's identifier.
func (s *Sandbox) PluginID() string {
	return s.pluginID
}

// Permissions returns the permissions the sandbox enforces.
func (s *Sandbox) Permissions() permissions.PluginPermissions {
	return s.perms
}

// Resources returns the resource budget the sandbox was built with.
func (s *Sandbox) Resources() permissions.ResourceConfig {
	return s.resources
}

// ValidateHTTPRequest runs the outbound request checks in order and stops
// at the first failure. It performs no network I/O; resolved addresses are
// checked again at dial time.
func (s *Sandbox) ValidateHTTPRequest(rawURL string, body []byte) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(KindInvalidURL, "cannot parse url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(KindDisallowedScheme, "scheme %q is not allowed", u.Scheme)
	}
	if len(s.perms.Network) == 0 {
		return nil, newError(KindNetworkDenied, "plugin has no network permission")
	}
	host := u.Hostname()
	if host == "" {
		return nil, newError(KindInvalidURL, "url has no host")
	}
	if !s.network.IsAllowed(host) {
		return nil, newError(KindHostNotAllowed, "host %q is not in the network allowlist", host)
	}
	if IsPrivateHost(host) {
		return nil, newError(KindPrivateIPDenied, "host %q is a private or reserved address", host)
	}
	if !s.httpRate.Allow() {
		return nil, newError(KindRateLimited, "http request rate limit exceeded")
	}
	if len(body) > MaxRequestBodyBytes {
		return nil, newError(KindBodyTooLarge, "request body exceeds %d bytes", MaxRequestBodyBytes)
	}
	return u, nil
}

// ValidateRedirect checks a redirect target. It applies the allowlist and
// address checks but does not consume rate budget.
func (s *Sandbox) ValidateRedirect(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return newError(KindDisallowedScheme, "redirect scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if !s.network.IsAllowed(host) {
		return newError(KindHostNotAllowed, "redirect host %q is not in the network allowlist", host)
	}
	if IsPrivateHost(host) {
		return newError(KindPrivateIPDenied, "redirect host %q is a private or reserved address", host)
	}
	return nil
}

// ValidateFileAccess confines path to the plugin's filesystem roots and
// returns the canonical path to operate on. It has no side effects.
func (s *Sandbox) ValidateFileAccess(path string, isWrite bool) (string, error) {
	return s.paths.Validate(path, isWrite)
}

// ValidateEnvAccess decides whether name may be read. Denied and unset
// variables both come back with Present false.
func (s *Sandbox) ValidateEnvAccess(name string) EnvLookup {
	return s.env.Lookup(name)
}

// AllowLog consumes one unit of the log rate budget.
func (s *Sandbox) AllowLog() bool {
	return s.logRate.Allow()
}
