// Package sandbox confines caller-supplied relative paths to a trusted base
// directory.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a resolved path lies outside the base.
var ErrPathTraversal = errors.New("path traversal detected")

// ResolveInside resolves rel against base and returns the canonical absolute
// path. The containment check runs after symlinks and dot segments have been
// resolved. An absolute rel replaces base, so it only succeeds when it already
// points inside base.
func ResolveInside(base, rel string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("sandbox base directory is empty")
	}

	baseAbs, err := canonicalize(base)
	if err != nil {
		return "", fmt.Errorf("resolve base %q: %w", base, err)
	}

	joined := rel
	if !filepath.IsAbs(rel) {
		joined = filepath.Join(baseAbs, rel)
	}

	target, err := canonicalize(joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rel, err)
	}

	if !Within(baseAbs, target) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrPathTraversal, rel, baseAbs)
	}
	return target, nil
}

// Within reports whether target equals base or is a descendant of it. Both
// arguments must already be clean absolute paths.
func Within(base, target string) bool {
	if base == target {
		return true
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// canonicalize returns an absolute, symlink-free form of p. Components that do
// not exist yet are appended verbatim to the resolved nearest existing ancestor.
func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	var missing []string
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return filepath.Clean(resolved), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}
