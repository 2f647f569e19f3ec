package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"termagent/internal/domain"
)

// Sandbox confines tool file access to one directory tree.
type Sandbox struct {
	root string // absolute, symlink-resolved
}

// NewSandbox creates a sandbox rooted at the given directory.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}

	return &Sandbox{root: resolved}, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// Resolve interprets path relative to the root (absolute paths are taken
// as-is) and validates the result. Empty and "." mean the root.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" || path == "." {
		return s.root, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	return s.ValidatePath(path)
}

// ValidatePath checks that requested resolves to a location inside the
// root. Symlinks are resolved on the deepest existing ancestor so paths
// for files that do not exist yet can be validated too.
func (s *Sandbox) ValidatePath(requested string) (string, error) {
	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutside, err.Error())
	}

	existing := abs
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			existing = resolved
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutside, err.Error())
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
	resolved := filepath.Join(append([]string{existing}, rest...)...)

	if !s.isWithinRoot(resolved) {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutside,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}
	return resolved, nil
}

// Rel returns path relative to the root, for display.
func (s *Sandbox) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (s *Sandbox) isWithinRoot(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}
