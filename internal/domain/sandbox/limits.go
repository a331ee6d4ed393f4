package sandbox

import "time"

// Byte caps and timeouts applied to every host function, independent of the
// per-plugin resource configuration.
const (
	MaxRequestBodyBytes  = 1 << 20 // 1 MiB
	MaxResponseBodyBytes = 4 << 20 // 4 MiB
	MaxReadFileBytes     = 8 << 20 // 8 MiB
	MaxWriteFileBytes    = 4 << 20 // 4 MiB
	MaxLogMessageBytes   = 4 << 10 // 4 KiB

	HTTPTimeout = 30 * time.Second

	// RateWindow is the fixed window used by the HTTP and log counters.
	RateWindow = time.Minute
)
