package util

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	invalidChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	dashRuns     = regexp.MustCompile(`-+`)
)

// IsWithin reports whether target is root or lies below it.
func IsWithin(root, target string) bool {
	rootClean := filepath.Clean(root)
	targetClean := filepath.Clean(target)
	if rootClean == targetClean {
		return true
	}
	return strings.HasPrefix(targetClean, rootClean+string(os.PathSeparator))
}

// IsStrictlyWithin reports whether target lies below root and is not root itself.
func IsStrictlyWithin(root, target string) bool {
	return filepath.Clean(root) != filepath.Clean(target) && IsWithin(root, target)
}

// IsStrictlyWithinAny applies IsStrictlyWithin to each root.
func IsStrictlyWithinAny(roots []string, target string) bool {
	for _, root := range roots {
		if IsStrictlyWithin(root, target) {
			return true
		}
	}
	return false
}

// SafeJoin joins an archive or tree relative name onto root and rejects
// names that escape it.
func SafeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("unsafe path %q: absolute", name)
	}
	joined := filepath.Join(root, filepath.FromSlash(name))
	if !IsStrictlyWithin(root, joined) {
		return "", fmt.Errorf("unsafe path %q: escapes %s", name, root)
	}
	return joined, nil
}

// EnsureWritableDir creates dir when missing and checks that files can be
// written into it.
func EnsureWritableDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory path cannot be empty")
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path exists but is not a directory: %s", dir)
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	case err != nil:
		return fmt.Errorf("cannot access path: %w", err)
	}

	probe := filepath.Join(dir, ".repokeep_write_check")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("no write permission for %s: %w", dir, err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}

// SanitizeName removes characters that cannot be used in a folder or file name.
func SanitizeName(name string) string {
	safe := controlChars.ReplaceAllString(name, "")
	safe = invalidChars.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, " .")
	safe = dashRuns.ReplaceAllString(safe, "-")
	return strings.Trim(safe, "-")
}
