package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver resolves and validates workspace-relative paths, rejecting any
// path (direct or via a symlink) that would escape the workspace root.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path within the workspace root.
// A symlink that exists inside the workspace but targets a location outside
// it is rejected even though the unresolved path looks contained, since the
// golden path's safety gateway and dotfile protection both reason about the
// workspace as a trust boundary (spec.md §4.3/§4.5).
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		rootReal = rootAbs
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if err := containedWithin(rootReal, targetAbs); err != nil {
		return "", err
	}

	// Resolve symlinks along the path, if the path (or the deepest existing
	// ancestor of it) exists, and re-check containment against the real root.
	// A path that doesn't exist yet (e.g. a file about to be written) has
	// nothing to resolve and is validated lexically above.
	resolved, err := resolveExistingAncestor(targetAbs)
	if err == nil && resolved != targetAbs {
		if err := containedWithin(rootReal, resolved); err != nil {
			return "", fmt.Errorf("path escapes workspace via symlink")
		}
	}

	return targetAbs, nil
}

// containedWithin reports an error unless target is root or a descendant of root.
func containedWithin(root, target string) error {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("path escapes workspace")
	}
	return nil
}

// resolveExistingAncestor evaluates symlinks on the deepest prefix of path
// that exists on disk, returning the fully-resolved form of that prefix
// joined with whatever suffix doesn't exist yet.
func resolveExistingAncestor(path string) (string, error) {
	current := path
	var suffix []string
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			if len(suffix) == 0 {
				return real, nil
			}
			return filepath.Join(append([]string{real}, suffix...)...), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		suffix = append([]string{filepath.Base(current)}, suffix...)
		current = parent
	}
}
