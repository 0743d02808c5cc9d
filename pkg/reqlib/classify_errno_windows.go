//go:build windows

package reqlib

import "syscall"

// Windows socket error codes (WSAE*) - native values returned by Windows APIs.
const (
	wsaenetdown     syscall.Errno = 10050
	wsaenetunreach  syscall.Errno = 10051
	wsaenetreset    syscall.Errno = 10052
	wsaeconnaborted syscall.Errno = 10053
	wsaeconnreset   syscall.Errno = 10054
	wsaeconnrefused syscall.Errno = 10061
	wsaehostdown    syscall.Errno = 10064
	wsaehostunreach syscall.Errno = 10065
)

// isConnectionErrno checks both the POSIX-style values Go defines and the
// native WSAE* values.
func isConnectionErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE:
		return true
	case wsaeconnreset, wsaeconnrefused, wsaeconnaborted,
		wsaenetunreach, wsaehostunreach, wsaenetdown, wsaenetreset, wsaehostdown:
		return true
	}
	return false
}
