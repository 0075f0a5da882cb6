//go:build linux

package server

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// applyLimits pins the server to its first cpus cores and lowers its soft
// address-space limit to memoryMB. Both are best effort.
func applyLimits(pid, cpus, memoryMB int) error {
	var errs []error
	if cpus > 0 && cpus < runtime.NumCPU() {
		var set unix.CPUSet
		set.Zero()
		for i := 0; i < cpus; i++ {
			set.Set(i)
		}
		if err := unix.SchedSetaffinity(pid, &set); err != nil {
			errs = append(errs, fmt.Errorf("cpu affinity: %w", err))
		}
	}
	if memoryMB > 0 {
		var cur unix.Rlimit
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, nil, &cur); err != nil {
			errs = append(errs, fmt.Errorf("read address space limit: %w", err))
		} else {
			soft := uint64(memoryMB) * 1024 * 1024
			if soft > cur.Max {
				soft = cur.Max
			}
			lim := unix.Rlimit{Cur: soft, Max: cur.Max}
			if err := unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil); err != nil {
				errs = append(errs, fmt.Errorf("address space limit: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
