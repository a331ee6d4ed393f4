package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceConfig_Normalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          ResourceConfig
		want        ResourceConfig
		wantClamped []string
	}{
		{
			name: "zero values become defaults",
			in:   ResourceConfig{},
			want: DefaultResources(),
		},
		{
			name: "values within limits are kept",
			in:   ResourceConfig{MaxFuel: 5, MaxMemoryMB: 64, MaxTableElements: 20, MaxHTTPRequestsPerMinute: 3, MaxLogMessagesPerMinute: 4, MaxExecutionSeconds: 5},
			want: ResourceConfig{MaxFuel: 5, MaxMemoryMB: 64, MaxTableElements: 20, MaxHTTPRequestsPerMinute: 3, MaxLogMessagesPerMinute: 4, MaxExecutionSeconds: 5},
		},
		{
			name: "values above hard maxima are clamped",
			in: ResourceConfig{
				MaxFuel:                  HardMaxFuel + 1,
				MaxMemoryMB:              4096,
				MaxTableElements:         1_000_000,
				MaxHTTPRequestsPerMinute: 1_000_000,
				MaxLogMessagesPerMinute:  1_000_000,
				MaxExecutionSeconds:      86_400,
			},
			want: ResourceConfig{
				MaxFuel:                  HardMaxFuel,
				MaxMemoryMB:              HardMaxMemoryMB,
				MaxTableElements:         HardMaxTableElements,
				MaxHTTPRequestsPerMinute: HardMaxHTTPRequestsPerMinute,
				MaxLogMessagesPerMinute:  HardMaxLogMessagesPerMinute,
				MaxExecutionSeconds:      HardMaxExecutionSeconds,
			},
			wantClamped: []string{
				"max_fuel", "max_memory_mb", "max_table_elements",
				"max_http_requests_per_minute", "max_log_messages_per_minute", "max_execution_seconds",
			},
		},
		{
			name:        "exactly at maximum is not clamped",
			in:          ResourceConfig{MaxFuel: HardMaxFuel, MaxMemoryMB: HardMaxMemoryMB},
			want:        ResourceConfig{MaxFuel: HardMaxFuel, MaxMemoryMB: HardMaxMemoryMB, MaxTableElements: DefaultMaxTableElements, MaxHTTPRequestsPerMinute: DefaultMaxHTTPRequestsPerMinute, MaxLogMessagesPerMinute: DefaultMaxLogMessagesPerMinute, MaxExecutionSeconds: DefaultMaxExecutionSeconds},
			wantClamped: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, clamped := tt.in.Normalize()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}

func TestResourceConfig_NormalizeNeverYieldsZero(t *testing.T) {
	t.Parallel()

	got, _ := ResourceConfig{MaxHTTPRequestsPerMinute: 0, MaxLogMessagesPerMinute: 0, MaxExecutionSeconds: 0}.Normalize()
	assert.Equal(t, DefaultMaxHTTPRequestsPerMinute, got.MaxHTTPRequestsPerMinute)
	assert.Equal(t, DefaultMaxLogMessagesPerMinute, got.MaxLogMessagesPerMinute)
	assert.Equal(t, DefaultMaxExecutionSeconds, got.MaxExecutionSeconds)
}

func TestResourceConfig_Derived(t *testing.T) {
	t.Parallel()

	r := DefaultResources()
	assert.Equal(t, 30*time.Second, r.ExecutionTimeout())
	assert.Equal(t, uint32(256), r.MemoryPages(), "16 MiB is 256 pages of 64 KiB")
}
