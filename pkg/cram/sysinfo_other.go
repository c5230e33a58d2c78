//go:build !darwin && !linux

package cram

import "runtime"

func detectWorkers() int { return runtime.NumCPU() }

// detectMemory reports nothing; callers fall back to defaults.
func detectMemory() (total, available int64) { return 0, 0 }
