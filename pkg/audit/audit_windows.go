//go:build windows

package audit

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// checkDiskSpace refuses the write when the audit volume is nearly full.
func (l *Logger) checkDiskSpace() error {
	pathPtr, err := windows.UTF16PtrFromString(l.path)
	if err != nil {
		return nil
	}
	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &available, &total, &free); err != nil {
		return nil
	}
	if available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			available, MinAuditDiskSpace)
	}
	return nil
}
