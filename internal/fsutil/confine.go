// Package fsutil holds filesystem helpers shared by the cache and the stream service.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path would escape its root.
var ErrOutsideRoot = errors.New("path escapes root")

// ConfineRelPath joins root and relTarget and guarantees the result, after
// resolving symlinks, stays under root. relTarget must be relative and may
// name a file that does not exist yet.
func ConfineRelPath(root, relTarget string) (string, error) {
	if strings.Contains(relTarget, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrOutsideRoot, relTarget)
	}
	cleanRel := filepath.Clean(relTarget)
	if filepath.IsAbs(cleanRel) || strings.HasPrefix(cleanRel, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrOutsideRoot, relTarget)
	}
	if cleanRel == ".." || strings.HasPrefix(cleanRel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, relTarget)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		realRoot = absRoot
	}
	return resolveAndCheck(realRoot, filepath.Join(realRoot, cleanRel))
}

func resolveAndCheck(realRoot, fullPath string) (string, error) {
	realPath := fullPath
	if _, err := os.Lstat(fullPath); err == nil {
		rp, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		realPath = rp
	} else if rp, err := filepath.EvalSymlinks(filepath.Dir(fullPath)); err == nil {
		realPath = filepath.Join(rp, filepath.Base(fullPath))
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w via symlinks: %s", ErrOutsideRoot, realPath)
	}
	return realPath, nil
}

// DirSize sums the sizes of regular files below dir. Files that vanish while
// walking are skipped since encoders delete and rename constantly.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}
