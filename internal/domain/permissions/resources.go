package permissions

import "time"

// Defaults applied when a manifest leaves a resource field unset.
const (
	DefaultMaxFuel                  uint64 = 1_000_000_000
	DefaultMaxMemoryMB              uint32 = 16
	DefaultMaxTableElements         uint32 = 10_000
	DefaultMaxHTTPRequestsPerMinute uint32 = 10
	DefaultMaxLogMessagesPerMinute  uint32 = 100
	DefaultMaxExecutionSeconds      uint32 = 30
)

// Hard ceilings. Manifest values above them are clamped, never rejected.
// The rate and execution-time ceilings are host policy on top of the
// fuel, memory and table maxima.
const (
	HardMaxFuel                  uint64 = 10_000_000_000
	HardMaxMemoryMB              uint32 = 256
	HardMaxTableElements         uint32 = 100_000
	HardMaxHTTPRequestsPerMinute uint32 = 1_000
	HardMaxLogMessagesPerMinute  uint32 = 10_000
	HardMaxExecutionSeconds      uint32 = 300
)

// ResourceConfig is the per-plugin execution budget.
type ResourceConfig struct {
	MaxFuel                  uint64 `yaml:"max_fuel,omitempty" json:"max_fuel,omitempty"`
	MaxMemoryMB              uint32 `yaml:"max_memory_mb,omitempty" json:"max_memory_mb,omitempty"`
	MaxTableElements         uint32 `yaml:"max_table_elements,omitempty" json:"max_table_elements,omitempty"`
	MaxHTTPRequestsPerMinute uint32 `yaml:"max_http_requests_per_minute,omitempty" json:"max_http_requests_per_minute,omitempty"`
	MaxLogMessagesPerMinute  uint32 `yaml:"max_log_messages_per_minute,omitempty" json:"max_log_messages_per_minute,omitempty"`
	MaxExecutionSeconds      uint32 `yaml:"max_execution_seconds,omitempty" json:"max_execution_seconds,omitempty"`
}

// DefaultResources returns the budget used when a manifest has no resources section.
func DefaultResources() ResourceConfig {
	return ResourceConfig{
		MaxFuel:                  DefaultMaxFuel,
		MaxMemoryMB:              DefaultMaxMemoryMB,
		MaxTableElements:         DefaultMaxTableElements,
		MaxHTTPRequestsPerMinute: DefaultMaxHTTPRequestsPerMinute,
		MaxLogMessagesPerMinute:  DefaultMaxLogMessagesPerMinute,
		MaxExecutionSeconds:      DefaultMaxExecutionSeconds,
	}
}

// Normalize fills zero fields with defaults and clamps every field to its
// hard maximum. An explicit zero is indistinguishable from an unset field,
// so no field can be normalized to zero. The second result lists the fields that were clamped.
func (r ResourceConfig) Normalize() (ResourceConfig, []string) {
	var clamped []string

	r.MaxFuel = orDefault(r.MaxFuel, DefaultMaxFuel)
	if r.MaxFuel > HardMaxFuel {
		r.MaxFuel = HardMaxFuel
		clamped = append(clamped, "max_fuel")
	}

	limits := []struct {
		field *uint32
		def   uint32
		max   uint32
		name  string
	}{
		{&r.MaxMemoryMB, DefaultMaxMemoryMB, HardMaxMemoryMB, "max_memory_mb"},
		{&r.MaxTableElements, DefaultMaxTableElements, HardMaxTableElements, "max_table_elements"},
		{&r.MaxHTTPRequestsPerMinute, DefaultMaxHTTPRequestsPerMinute, HardMaxHTTPRequestsPerMinute, "max_http_requests_per_minute"},
		{&r.MaxLogMessagesPerMinute, DefaultMaxLogMessagesPerMinute, HardMaxLogMessagesPerMinute, "max_log_messages_per_minute"},
		{&r.MaxExecutionSeconds, DefaultMaxExecutionSeconds, HardMaxExecutionSeconds, "max_execution_seconds"},
	}
	for _, l := range limits {
		*l.field = orDefault(*l.field, l.def)
		if *l.field > l.max {
			*l.field = l.max
			clamped = append(clamped, l.name)
		}
	}

	return r, clamped
}

// ExecutionTimeout returns the wall-clock budget of a single invocation.
func (r ResourceConfig) ExecutionTimeout() time.Duration {
	return time.Duration(r.MaxExecutionSeconds) * time.Second
}

// MemoryPages returns the memory ceiling in 64 KiB WASM pages.
func (r ResourceConfig) MemoryPages() uint32 {
	return r.MaxMemoryMB * 16
}

func orDefault[T uint32 | uint64](v, def T) T {
	if v == 0 {
		return def
	}
	return v
}
