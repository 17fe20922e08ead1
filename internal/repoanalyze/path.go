// Package repoanalyze backs the analyze_repository, get_repo_summary and
// detect_tech_debt commands: a filesystem-scoped static analysis of a user-
// supplied repository directory, gated by a path-safety precheck.
package repoanalyze

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// maxPathDepth bounds how deep a repo path may sit, guarding against
// accidental analysis of an entire filesystem root.
const maxPathDepth = 20

// forbiddenRoots lists system directories that must never be handed to the
// analyzer, even indirectly via a symlink or a relative path that resolves
// into them.
func forbiddenRoots() []string {
	if runtime.GOOS == "windows" {
		systemRoot := os.Getenv("SYSTEMROOT")
		if systemRoot == "" {
			systemRoot = `C:\Windows`
		}
		roots := []string{
			systemRoot,
			`C:\Windows`,
			`C:\Program Files`,
			`C:\Program Files (x86)`,
			`C:\ProgramData`,
		}
		if allUsers := os.Getenv("ALLUSERSPROFILE"); allUsers != "" {
			roots = append(roots, allUsers)
		}
		return roots
	}
	return []string{
		"/etc", "/sys", "/proc", "/dev", "/bin", "/sbin",
		"/usr/bin", "/usr/sbin", "/boot", "/root", "/var/log",
	}
}

// ValidatePath reports whether path is safe to hand to the analyzer: it must
// resolve to an existing, readable, non-empty directory outside every
// forbidden system root and within maxPathDepth levels.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path cannot be empty")
	}

	resolved, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path format: %w", err)
	}
	resolved, err = filepath.EvalSymlinks(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("path does not exist")
		}
		return fmt.Errorf("invalid path format: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return errors.New("path does not exist")
	}
	if !info.IsDir() {
		return errors.New("path must be a directory")
	}

	for _, forbidden := range forbiddenRoots() {
		forbiddenResolved, err := filepath.EvalSymlinks(forbidden)
		if err != nil {
			forbiddenResolved = forbidden
		}
		if isWithin(resolved, forbiddenResolved) {
			return fmt.Errorf("access to system directory %q is forbidden for security reasons", filepath.Base(forbidden))
		}
	}

	f, err := os.Open(resolved)
	if err != nil {
		return errors.New("no read permission on this directory")
	}
	names, err := f.Readdirnames(1)
	f.Close()
	if err != nil && len(names) == 0 {
		return errors.New("directory is empty")
	}
	if len(names) == 0 {
		return errors.New("directory is empty")
	}

	depth := len(strings.Split(filepath.Clean(resolved), string(filepath.Separator)))
	if depth > maxPathDepth {
		return errors.New("path too deep (max 20 levels)")
	}

	return nil
}

// isWithin reports whether path is equal to or nested under root.
func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
