//go:build !unix

package instance

import "os"

func alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func interrupt(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(os.Interrupt)
}

func kill(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		p.Kill()
	}
}
