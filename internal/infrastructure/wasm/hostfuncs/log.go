package hostfuncs

import (
	"context"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
	"github.com/reglet-dev/warden/internal/infrastructure/metrics"
)

const truncationMarker = "...[truncated]"

// LogMessage re-emits a guest log line through the host logger. Lines over
// the plugin's rate budget are dropped.
func (d *Dispatcher) LogMessage(ctx context.Context, sb *sandbox.Sandbox, msg LogMessageWire) {
	started := d.now()
	level := parseLogLevel(msg.Level)
	args := "level=" + level.String() + " len=" + strconv.Itoa(len(msg.Message))

	if !sb.AllowLog() {
		metrics.RecordDroppedLog(sb.PluginID())
		if d.dropWarn.Allow() {
			slog.WarnContext(ctx, "dropping plugin log messages over rate limit", "plugin", sb.PluginID())
		}
		err := &sandbox.Error{Kind: sandbox.KindLogRateLimited, Message: "log rate limit exceeded"}
		d.record(ctx, sb, OpLogMessage, args, audit.StatusDenied, err, started)
		return
	}

	text := d.redactor.ScrubString(truncateMessage(msg.Message, sandbox.MaxLogMessageBytes))
	attrs := []slog.Attr{slog.String("plugin", sb.PluginID())}
	if id := InvocationIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("invocation", id))
	}
	d.logger.LogAttrs(ctx, level, text, attrs...)

	d.record(ctx, sb, OpLogMessage, args, audit.StatusAllowed, nil, started)
}

// parseLogLevel maps the guest's numeric severity to slog.
func parseLogLevel(level int) slog.Level {
	switch {
	case level <= 0:
		return slog.LevelError
	case level == 1:
		return slog.LevelWarn
	case level == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// truncateMessage cuts msg to at most limit bytes on a rune boundary and
// appends a marker.
func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + truncationMarker
}
