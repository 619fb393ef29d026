package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath    = errors.New("invalid path")
	ErrProtectedPath  = errors.New("protected path")
	ErrOutsideAllowed = errors.New("outside allowed roots")
	ErrTraversal      = errors.New("path traversal detected")
	ErrSymlinkEscape  = errors.New("symlink escape detected")
)

// Validator decides whether a working directory may be created or torn down.
// Subtree-protected paths block themselves and everything below them;
// exact-protected paths only block the path itself.
type Validator struct {
	AllowedRoots   []string
	ProtectedPaths []string
	ExactProtected []string
}

// NewValidator builds a validator for the given roots. extraProtected is
// added to the built-in subtree-protected set.
func NewValidator(allowed []string, extraProtected []string) *Validator {
	return &Validator{
		AllowedRoots:   normalizeRoots(allowed),
		ProtectedPaths: defaultProtected(extraProtected),
		ExactProtected: defaultExactProtected(),
	}
}

// ValidateTarget is the single gate in front of every mkdir and every
// teardown root. Errors wrap one of the sentinel values above.
func (v *Validator) ValidateTarget(path string) error {
	if DetectTraversal(path) {
		return fmt.Errorf("%w: %s", ErrTraversal, path)
	}

	p, err := NormalizePath(path)
	if err != nil {
		return err
	}

	if v.isProtected(p) {
		return fmt.Errorf("%w: %s", ErrProtectedPath, p)
	}

	if !IsWithinAllowedRoots(p, v.AllowedRoots) {
		return fmt.Errorf("%w: %s", ErrOutsideAllowed, p)
	}

	// The final element is never followed (a symlink root is removed as a
	// link), so only the parent chain is resolved.
	resolved, err := ResolveParent(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("resolve %s: %w", p, err)
	}
	if resolved == p {
		return nil
	}
	if v.isProtected(resolved) || !IsWithinAllowedRoots(resolved, v.AllowedRoots) {
		return fmt.Errorf("%w: %s resolves to %s", ErrSymlinkEscape, p, resolved)
	}
	return nil
}

func (v *Validator) isProtected(p string) bool {
	if IsProtectedPath(p, v.ProtectedPaths) {
		return true
	}
	for _, exact := range v.ExactProtected {
		if p == filepath.Clean(exact) {
			return true
		}
	}
	return false
}

// NormalizePath converts path to absolute, cleaned form
func NormalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrInvalidPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return filepath.Clean(abs), nil
}

// DetectTraversal reports any ".." segment in raw input
func DetectTraversal(raw string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(raw), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ResolveParent evaluates symlinks in the parent of cleanAbs and rejoins
// the final element unresolved.
func ResolveParent(cleanAbs string) (string, error) {
	parent, name := filepath.Split(cleanAbs)
	if name == "" {
		return cleanAbs, nil
	}
	resolved, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, name), nil
}

// IsWithinAllowedRoots checks if path is within any allowed root
func IsWithinAllowedRoots(path string, allowedRoots []string) bool {
	p := filepath.Clean(path)
	for _, r := range allowedRoots {
		if hasPathPrefix(p, r) {
			return true
		}
	}
	return false
}

// IsProtectedPath checks path against subtree-protected entries
func IsProtectedPath(path string, protected []string) bool {
	p := filepath.Clean(path)
	if p == string(os.PathSeparator) {
		return true
	}
	for _, prot := range protected {
		if hasPathPrefix(p, prot) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)

	if prefix == string(os.PathSeparator) {
		return path == prefix
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(os.PathSeparator))
}

// normalizeRoots cleans each root and adds its resolved forms so a root
// that is, or sits below, a symlink still matches paths resolved through it.
func normalizeRoots(roots []string) []string {
	out := make([]string, 0, len(roots)*2)
	for _, r := range roots {
		if strings.TrimSpace(r) == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		abs = filepath.Clean(abs)
		out = append(out, abs)
		if resolved, err := ResolveParent(abs); err == nil && resolved != abs {
			out = append(out, resolved)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil && resolved != abs {
			out = append(out, resolved)
		}
	}
	return out
}

func defaultProtected(extra []string) []string {
	base := []string{
		"/",
		"/bin",
		"/boot",
		"/dev",
		"/etc",
		"/lib",
		"/lib64",
		"/proc",
		"/sbin",
		"/sys",
		"/usr",
	}
	return append(base, extra...)
}

func defaultExactProtected() []string {
	exact := []string{"/home", "/root", "/tmp", "/var", "/opt", "/srv", "/mnt", "/media"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		exact = append(exact, home)
	}
	return exact
}
