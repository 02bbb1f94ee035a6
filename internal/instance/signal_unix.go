//go:build unix

package instance

import (
	"golang.org/x/sys/unix"
)

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func interrupt(pid int) error {
	return unix.Kill(pid, unix.SIGINT)
}

func kill(pid int) {
	unix.Kill(pid, unix.SIGKILL)
}
