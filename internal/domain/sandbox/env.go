package sandbox

import "strings"

// alwaysDenied lists variables a plugin never sees, whatever its manifest
// says. Matching is case-insensitive.
var alwaysDenied = map[string]struct{}{
	"PATH":                           {},
	"HOME":                           {},
	"USER":                           {},
	"SHELL":                          {},
	"LD_PRELOAD":                     {},
	"LD_LIBRARY_PATH":                {},
	"AWS_ACCESS_KEY_ID":              {},
	"AWS_SECRET_ACCESS_KEY":          {},
	"AWS_SESSION_TOKEN":              {},
	"AZURE_CLIENT_SECRET":            {},
	"GOOGLE_APPLICATION_CREDENTIALS": {},
	"OPENAI_API_KEY":                 {},
	"ANTHROPIC_API_KEY":              {},
	"GEMINI_API_KEY":                 {},
	"MISTRAL_API_KEY":                {},
}

// sensitiveMarkers flag allowed variables that probably hold credentials.
// They only produce a warning.
var sensitiveMarkers = []string{"_SECRET", "_PASSWORD", "_TOKEN"}

// EnvOutcome describes how an environment lookup was decided.
type EnvOutcome string

const (
	EnvFound        EnvOutcome = "found"
	EnvNotFound     EnvOutcome = "not_found"
	EnvNotAllowed   EnvOutcome = "not_allowed"
	EnvAlwaysDenied EnvOutcome = "always_denied"
)

// EnvLookup is the result of an environment access check. Value and Present
// are what the guest sees; Outcome and Sensitive are for the audit trail.
type EnvLookup struct {
	Value     string
	Present   bool
	Outcome   EnvOutcome
	Sensitive bool
}

// Denied reports whether the lookup was refused by policy.
func (l EnvLookup) Denied() bool {
	return l.Outcome == EnvNotAllowed || l.Outcome == EnvAlwaysDenied
}

// EnvValidator gates reads of host environment variables.
type EnvValidator struct {
	allowed map[string]struct{}
	lookup  func(string) (string, bool)
}

// NewEnvValidator builds a validator over allowed, reading values via lookup.
func NewEnvValidator(allowed []string, lookup func(string) (string, bool)) *EnvValidator {
	v := &EnvValidator{allowed: make(map[string]struct{}, len(allowed)), lookup: lookup}
	for _, name := range allowed {
		v.allowed[name] = struct{}{}
	}
	return v
}

// Lookup checks name and returns its value when permitted. A refused
// variable and an unset variable both come back with Present false.
func (v *EnvValidator) Lookup(name string) EnvLookup {
	upper := strings.ToUpper(name)
	if _, denied := alwaysDenied[upper]; denied {
		return EnvLookup{Outcome: EnvAlwaysDenied}
	}
	if _, ok := v.allowed[name]; !ok {
		return EnvLookup{Outcome: EnvNotAllowed}
	}

	sensitive := false
	for _, marker := range sensitiveMarkers {
		if strings.Contains(upper, marker) {
			sensitive = true
			break
		}
	}

	value, ok := v.lookup(name)
	if !ok {
		return EnvLookup{Outcome: EnvNotFound, Sensitive: sensitive}
	}
	return EnvLookup{Value: value, Present: true, Outcome: EnvFound, Sensitive: sensitive}
}

// IsAlwaysDenied reports whether name is on the hardcoded denylist.
func IsAlwaysDenied(name string) bool {
	_, ok := alwaysDenied[strings.ToUpper(name)]
	return ok
}
