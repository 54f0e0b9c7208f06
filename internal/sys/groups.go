// Package sys wraps the OS process-group operations the supervisor needs.
package sys

import (
	"errors"
	"fmt"
	"syscall"
)

// Groups signals and probes whole process groups so a task's descendant tree
// is always handled as a unit.
type Groups struct{}

// Signal sends sig to every process in the group led by pgid.
func (Groups) Signal(pgid int, sig syscall.Signal) error {
	if pgid <= 0 {
		return fmt.Errorf("invalid process group %d", pgid)
	}
	return syscall.Kill(-pgid, sig)
}

// Alive reports whether the group can still be signaled. EPERM means a
// process exists but belongs to someone else, which still counts as alive.
func (Groups) Alive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	err := syscall.Kill(-pgid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
