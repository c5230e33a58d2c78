//go:build linux

package cram

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// detectWorkers counts the fast cores on hybrid CPUs, falling back to every
// logical CPU. Cores whose clock stays well below the mean are treated as
// efficiency cores.
func detectWorkers() int {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return runtime.NumCPU()
	}
	defer f.Close()

	coreMHz := make(map[string]float64)
	var core string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "processor":
			core = ""
		case "physical id", "core id":
			core += value + "/"
		case "cpu MHz":
			mhz, err := strconv.ParseFloat(value, 64)
			if err == nil && mhz > coreMHz[core] {
				coreMHz[core] = mhz
			}
		}
	}
	if len(coreMHz) <= 2 {
		return runtime.NumCPU()
	}

	var sum float64
	for _, mhz := range coreMHz {
		sum += mhz
	}
	mean := sum / float64(len(coreMHz))
	fast := 0
	for _, mhz := range coreMHz {
		if mhz >= mean*0.9 {
			fast++
		}
	}
	if fast == 0 || fast == len(coreMHz) {
		return runtime.NumCPU()
	}
	return fast
}

// detectMemory reads total and available memory from /proc/meminfo.
func detectMemory() (total, available int64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	var free, cached int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			total = kb * KB
		case "MemAvailable":
			available = kb * KB
		case "MemFree":
			free = kb * KB
		case "Buffers", "Cached":
			cached += kb * KB
		}
	}
	if available == 0 {
		// kernels before 3.14 have no MemAvailable
		available = free + cached
	}
	return total, available
}
