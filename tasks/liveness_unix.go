//go:build unix

package tasks

import "golang.org/x/sys/unix"

// processAlive sends signal 0. EPERM means the process exists but belongs to
// someone else, which still counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
