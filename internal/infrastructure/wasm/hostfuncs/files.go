package hostfuncs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/reglet-dev/warden/internal/domain/audit"
	"github.com/reglet-dev/warden/internal/domain/sandbox"
)

// ReadFile returns the contents of a file inside the plugin's roots.
func (d *Dispatcher) ReadFile(ctx context.Context, sb *sandbox.Sandbox, req ReadFileRequestWire) ReadFileResponseWire {
	started := d.now()

	path, err := sb.ValidateFileAccess(req.Path, false)
	if err != nil {
		d.record(ctx, sb, OpReadFile, req.Path, statusFor(err), err, started)
		return ReadFileResponseWire{Error: toErrorDetail(err)}
	}

	content, err := readBounded(path, sandbox.MaxReadFileBytes)
	if err != nil {
		d.record(ctx, sb, OpReadFile, req.Path, statusFor(err), err, started)
		return ReadFileResponseWire{Error: fileErrorDetail(err)}
	}

	d.record(ctx, sb, OpReadFile, req.Path+" ("+strconv.Itoa(len(content))+" bytes)", audit.StatusAllowed, nil, started)
	return ReadFileResponseWire{Content: content}
}

// WriteFile creates or replaces a file inside the plugin's roots.
func (d *Dispatcher) WriteFile(ctx context.Context, sb *sandbox.Sandbox, req WriteFileRequestWire) WriteFileResponseWire {
	started := d.now()
	args := req.Path + " (" + strconv.Itoa(len(req.Content)) + " bytes)"

	if len(req.Content) > sandbox.MaxWriteFileBytes {
		err := &sandbox.Error{Kind: sandbox.KindFileTooLarge, Message: fmt.Sprintf("write exceeds %d bytes", sandbox.MaxWriteFileBytes)}
		d.record(ctx, sb, OpWriteFile, args, audit.StatusDenied, err, started)
		return WriteFileResponseWire{Error: toErrorDetail(err)}
	}

	path, err := sb.ValidateFileAccess(req.Path, true)
	if err != nil {
		d.record(ctx, sb, OpWriteFile, args, statusFor(err), err, started)
		return WriteFileResponseWire{Error: toErrorDetail(err)}
	}

	if err := os.WriteFile(path, req.Content, 0o600); err != nil {
		d.record(ctx, sb, OpWriteFile, args, audit.StatusError, err, started)
		return WriteFileResponseWire{Error: fileErrorDetail(err)}
	}

	d.record(ctx, sb, OpWriteFile, args, audit.StatusAllowed, nil, started)
	return WriteFileResponseWire{OK: true}
}

// readBounded reads at most limit bytes. A file that grew past the limit
// after validation is still refused.
func readBounded(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path validated by the sandbox
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &sandbox.Error{Kind: sandbox.KindFileTooLarge, Message: fmt.Sprintf("file exceeds %d bytes", limit)}
	}
	return data, nil
}

// fileErrorDetail hides OS error text, which carries canonical host paths.
func fileErrorDetail(err error) *ErrorDetail {
	if _, ok := sandbox.KindOf(err); ok {
		return toErrorDetail(err)
	}
	switch {
	case os.IsNotExist(err):
		return &ErrorDetail{Kind: "io", Message: "file does not exist"}
	case os.IsPermission(err):
		return &ErrorDetail{Kind: "io", Message: "permission denied by the host filesystem"}
	default:
		return &ErrorDetail{Kind: "io", Message: "file operation failed"}
	}
}
