//go:build linux

package worker

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToCPU restricts the calling OS thread to one CPU, chosen by worker id.
// The caller must hold runtime.LockOSThread.
func pinToCPU(id int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(id % runtime.NumCPU())
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("setting affinity for worker %d: %w", id, err)
	}
	return nil
}
