//go:build darwin

package cram

import (
	"runtime"
	"syscall"
)

// detectWorkers returns the performance core count on Apple silicon, else
// the physical core count, else every logical CPU.
func detectWorkers() int {
	for _, name := range []string{"hw.perflevel0.physicalcpu", "hw.physicalcpu"} {
		if n := sysctlInt(name); n > 0 {
			return int(n)
		}
	}
	return runtime.NumCPU()
}

// detectMemory reports physical memory; three quarters of it is assumed
// available.
func detectMemory() (total, available int64) {
	total = sysctlInt("hw.memsize")
	return total, total * 3 / 4
}

// sysctlInt decodes a little-endian integer sysctl value.
func sysctlInt(name string) int64 {
	raw, err := syscall.Sysctl(name)
	if err != nil {
		return 0
	}
	var v uint64
	for i := 0; i < len(raw) && i < 8; i++ {
		v |= uint64(raw[i]) << (8 * uint(i))
	}
	return int64(v)
}
