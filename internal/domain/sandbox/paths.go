package sandbox

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator confines file access to a fixed list of root directories.
// Roots are canonicalized once; every call still re-walks the requested path
// looking for symlinks that lead out of the roots.
type PathValidator struct {
	roots []string
}

// NewPathValidator canonicalizes roots. A root that cannot be resolved (for
// example because it does not exist yet) is kept in absolute, cleaned form.
func NewPathValidator(roots []string) *PathValidator {
	v := &PathValidator{roots: make([]string, 0, len(roots))}
	for _, root := range roots {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			slog.Warn("ignoring unusable filesystem root", "root", root, "error", err)
			continue
		}
		canonical, err := filepath.EvalSymlinks(abs)
		if err != nil {
			slog.Warn("filesystem root does not resolve, using it as given", "root", abs, "error", err)
			canonical = abs
		}
		v.roots = append(v.roots, filepath.Clean(canonical))
	}
	return v
}

// Roots returns the canonical roots.
func (v *PathValidator) Roots() []string {
	return append([]string(nil), v.roots...)
}

// Validate checks path for a read or a write and returns the canonical path
// the caller should operate on. Relative paths are taken relative to the
// first root.
func (v *PathValidator) Validate(path string, isWrite bool) (string, error) {
	if len(v.roots) == 0 {
		return "", newError(KindFsDenied, "plugin has no filesystem permission")
	}

	original := path
	if !filepath.IsAbs(original) {
		original = filepath.Join(v.roots[0], original)
	}
	original = filepath.Clean(original)

	canonical, err := canonicalize(original, isWrite)
	if err != nil {
		return "", newError(KindCannotResolve, "path %q cannot be resolved", path)
	}

	if !v.contains(canonical) {
		// A link planted inside a root is reported as an escape rather than
		// as a plain out-of-sandbox path.
		if v.symlinkEscapes(original) {
			return "", newError(KindSymlinkEscape, "path %q traverses a symlink that leaves the sandbox", path)
		}
		return "", newError(KindOutsideSandbox, "path %q is outside the sandbox", path)
	}

	if v.symlinkEscapes(original) {
		return "", newError(KindSymlinkEscape, "path %q traverses a symlink that leaves the sandbox", path)
	}

	if !isWrite {
		if info, statErr := os.Stat(canonical); statErr == nil && info.Mode().IsRegular() && info.Size() > MaxReadFileBytes {
			return "", newError(KindFileTooLarge, "file exceeds %d bytes", MaxReadFileBytes)
		}
	}

	return canonical, nil
}

func canonicalize(path string, isWrite bool) (string, error) {
	if !isWrite {
		return filepath.EvalSymlinks(path)
	}
	base := filepath.Base(path)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", os.ErrInvalid
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}

func (v *PathValidator) contains(path string) bool {
	for _, root := range v.roots {
		if within(root, path) {
			return true
		}
	}
	return false
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}

// symlinkEscapes walks path one component at a time. Every component that is
// a symlink located inside a root must resolve to a target inside a root.
// Links above the roots are not under the plugin's control and are skipped.
func (v *PathValidator) symlinkEscapes(path string) bool {
	vol := filepath.VolumeName(path)
	rest := strings.TrimPrefix(path[len(vol):], string(filepath.Separator))
	prefix := vol + string(filepath.Separator)

	for _, part := range strings.Split(rest, string(filepath.Separator)) {
		if part == "" {
			continue
		}
		prefix = filepath.Join(prefix, part)

		info, err := os.Lstat(prefix)
		if err != nil {
			// nothing exists past this point
			return false
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		location := prefix
		if parent, err := filepath.EvalSymlinks(filepath.Dir(prefix)); err == nil {
			location = filepath.Join(parent, filepath.Base(prefix))
		}
		if !v.contains(location) {
			continue
		}

		target, err := os.Readlink(prefix)
		if err != nil {
			return true
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(location), target)
		}
		resolved, err := filepath.EvalSymlinks(target)
		if err != nil {
			// dangling link: judge the literal target
			resolved = filepath.Clean(target)
		}
		if !v.contains(resolved) {
			return true
		}
	}
	return false
}
