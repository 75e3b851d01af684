//go:build !windows

package audit

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// checkDiskSpace refuses the write when the audit volume is nearly full.
// A failed statfs only warns; the audit trail should not block the engine.
func (l *Logger) checkDiskSpace() error {
	var stat unix.Statfs_t
	if err := unix.Statfs(l.path, &stat); err != nil {
		if err := unix.Statfs(filepath.Dir(l.path), &stat); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to check disk space for audit: %v\n", err)
			return nil
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	if available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			available, MinAuditDiskSpace)
	}
	return nil
}
