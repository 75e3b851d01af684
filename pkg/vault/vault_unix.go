//go:build !windows

package vault

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// availableBytes returns the space available to unprivileged writers on the
// volume holding path, falling back to the parent when path does not exist yet.
func availableBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		if err := unix.Statfs(filepath.Dir(path), &stat); err != nil {
			return 0, fmt.Errorf("vault: failed to get disk stats: %w", err)
		}
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
