//go:build !unix && !windows

package reqlib

import "syscall"

func isConnectionErrno(errno syscall.Errno) bool { return false }
