//go:build unix

package reqlib

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// isConnectionErrno checks if a syscall.Errno means the connection could
// not be established or was lost. On Unix systems, only POSIX-style error
// constants are checked.
func isConnectionErrno(errno syscall.Errno) bool {
	switch errno {
	case unix.ECONNRESET, unix.ECONNREFUSED, unix.ECONNABORTED,
		unix.ENETUNREACH, unix.EHOSTUNREACH, unix.EPIPE:
		return true
	}
	return false
}
