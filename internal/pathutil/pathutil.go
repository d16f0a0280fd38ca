package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path")

func isWindows() bool { return runtime.GOOS == "windows" }

// CanonicalDir resolves p to an absolute, symlink-free directory path.
func CanonicalDir(p string) (string, error) {
	dir := strings.TrimSpace(p)
	if dir == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(dir, '\x00') {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrInvalidPath)
	}

	clean := filepath.Clean(filepath.FromSlash(dir))
	if isWindows() {
		if vol := filepath.VolumeName(clean); vol != "" && !filepath.IsAbs(clean) {
			return "", fmt.Errorf("%w: drive-relative path %q", ErrInvalidPath, p)
		}
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	if resolved, rerr := filepath.EvalSymlinks(abs); rerr == nil && resolved != "" {
		abs = resolved
	}

	st, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	if !st.IsDir() {
		return "", fmt.Errorf("%w: not a directory: %q", ErrInvalidPath, p)
	}
	return abs, nil
}

// JoinUnderRoot joins root + rel and ensures rel does not escape root.
// Root should already be canonical (see CanonicalDir).
func JoinUnderRoot(root, rel string) (string, error) {
	root = strings.TrimSpace(root)
	rel = strings.TrimSpace(rel)
	if root == "" {
		return "", fmt.Errorf("%w: empty root", ErrInvalidPath)
	}
	if rel == "" {
		return "", fmt.Errorf("%w: empty relative path", ErrInvalidPath)
	}
	if strings.ContainsRune(rel, '\x00') {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrInvalidPath)
	}
	if isWindows() && filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: volume name in relative path %q", ErrInvalidPath, rel)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: path must be relative", ErrInvalidPath)
	}

	cleanRel := filepath.Clean(rel)
	if cleanRel == "." {
		return "", fmt.Errorf("%w: path must not be '.'", ErrInvalidPath)
	}

	abs, err := filepath.Abs(filepath.Join(root, cleanRel))
	if err != nil {
		return "", err
	}
	ok, err := withinRoot(root, abs)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: path escapes root: %q", ErrInvalidPath, rel)
	}
	return abs, nil
}

func withinRoot(root, p string) (bool, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false, err
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return true, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}
