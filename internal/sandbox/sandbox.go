// Package sandbox confines user and model supplied paths to a workspace root.
//
// A path is accepted only if it passes two checks: lexical containment after
// normalization, and real-path containment after symlink resolution of the
// path itself or, when it does not exist yet, of its nearest existing ancestor.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ierr "github.com/mark3labs/taskr/internal/errors"
)

const op = "resolve"

// Resolver resolves paths relative to a fixed workspace root.
type Resolver struct {
	root string
}

// New creates a Resolver for root. The directory is created if it does not
// exist and the stored root is absolute with symlinks resolved.
func New(root string) (*Resolver, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root symlinks: %w", err)
	}
	return &Resolver{root: real}, nil
}

// Root returns the absolute workspace root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve maps p to an absolute path inside the workspace or returns an
// AccessDenied error. An empty path or "." resolves to the root.
func (r *Resolver) Resolve(p string) (string, error) {
	var target string
	if filepath.IsAbs(p) {
		target = filepath.Clean(p)
	} else {
		cleaned := filepath.Clean(filepath.FromSlash(p))
		if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
			return "", ierr.AccessDenied(op, "path %q escapes the workspace", p)
		}
		target = filepath.Join(r.root, cleaned)
	}

	if !r.contains(target) {
		return "", ierr.AccessDenied(op, "path %q is outside the workspace", p)
	}

	real, err := r.realPath(target)
	if err != nil {
		return "", ierr.Wrap(ierr.KindAccessDenied, op, fmt.Errorf("checking %q: %w", p, err))
	}
	if !r.contains(real) {
		return "", ierr.AccessDenied(op, "path %q resolves outside the workspace through a symlink", p)
	}

	return target, nil
}

// Rel returns abs relative to the root for display. The root itself is ".".
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// IsRoot reports whether abs is the workspace root.
func (r *Resolver) IsRoot(abs string) bool {
	return filepath.Clean(abs) == r.root
}

func (r *Resolver) contains(p string) bool {
	return p == r.root || strings.HasPrefix(p, r.root+string(filepath.Separator))
}

// maxLinkHops bounds how many dangling symlinks realPath follows.
const maxLinkHops = 40

// realPath resolves symlinks in p. When p does not exist, the nearest existing
// ancestor is resolved instead since anything created later lands under it.
// A dangling symlink is followed to its target, which is where a write
// through it would land.
func (r *Resolver) realPath(p string) (string, error) {
	current := p
	hops := 0
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			if hops++; hops > maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links")
			}
			dest, rerr := os.Readlink(current)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(dest) {
				dir, derr := filepath.EvalSymlinks(filepath.Dir(current))
				if derr != nil {
					return "", derr
				}
				dest = filepath.Join(dir, dest)
			}
			current = filepath.Clean(dest)
			continue
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		current = parent
	}
}
