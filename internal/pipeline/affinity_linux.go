//go:build linux

package pipeline

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setAffinity pins the calling OS thread to cpus. The caller must have
// locked the goroutine to its thread.
func setAffinity(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		if cpu < 0 {
			return fmt.Errorf("invalid cpu %d", cpu)
		}
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity: %w", err)
	}
	return nil
}
