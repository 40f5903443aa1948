// SPDX-License-Identifier: MIT

//go:build !windows

package fsutil

import (
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data so readers see either the old or the new file,
// never a partial one. The file is fsynced before the rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}
