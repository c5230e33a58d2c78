package cram

import (
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/scttfrdmn/cram-go/pkg/structure"
	"github.com/scttfrdmn/cram-go/pkg/transcode"
)

// Size units
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// bytesPerRecord is a rough in-memory size of one record while its
// container is being encoded.
const bytesPerRecord = 1 * KB

// Options holds the settings of Writer and Reader.
type Options struct {
	// Encoding workers; one container is encoded per worker at a time.
	Workers int
	// RecordsPerSlice caps the records of one slice.
	RecordsPerSlice int
	// SlicesPerContainer caps the slices of one container.
	SlicesPerContainer int

	// Method compresses core, external and compression header blocks.
	Method structure.Method
	// Level is the compression level, 1 (fastest) to 9 (best); 0 selects
	// the default.
	Level int

	PreserveReadNames bool
	QualityPolicy     transcode.QualityPolicy
	// NamePrefix starts generated read names.
	NamePrefix string

	// SkipCorruptContainers makes Reader log and skip containers holding
	// structural or reference errors. Format errors still stop reading.
	SkipCorruptContainers bool
	// VerifyReference checks each slice's reference MD5 on read.
	VerifyReference bool

	availableMemory int64
}

// DefaultOptions returns options sized for the current machine.
func DefaultOptions() *Options {
	mem := systemMemory()
	return &Options{
		Workers:            detectWorkers(),
		RecordsPerSlice:    10000,
		SlicesPerContainer: 1,
		Method:             structure.Gzip,
		PreserveReadNames:  true,
		QualityPolicy:      transcode.PreserveAll{},
		NamePrefix:         transcode.DefaultNamePrefix,
		VerifyReference:    true,
		availableMemory:    mem.Available,
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if o.RecordsPerSlice < 1 {
		return fmt.Errorf("records per slice must be >= 1")
	}
	if o.SlicesPerContainer < 1 {
		return fmt.Errorf("slices per container must be >= 1")
	}
	switch o.Method {
	case structure.Raw, structure.Gzip, structure.Zstd:
	default:
		return fmt.Errorf("unsupported compression method %v", o.Method)
	}
	if o.Level < 0 || o.Level > 9 {
		return fmt.Errorf("compression level must be between 0 and 9")
	}
	if o.availableMemory > 0 && o.pipelineMemory() > o.availableMemory {
		return fmt.Errorf("%d workers with %d records per container need about %.1f GB, %.1f GB available",
			o.Workers, o.RecordsPerSlice*o.SlicesPerContainer,
			float64(o.pipelineMemory())/GB, float64(o.availableMemory)/GB)
	}
	return nil
}

// pipelineMemory estimates the memory held by containers in flight.
func (o *Options) pipelineMemory() int64 {
	return int64(2*o.Workers) * int64(o.RecordsPerSlice*o.SlicesPerContainer) * bytesPerRecord
}

// Show prints the machine and the effective options.
func (o *Options) Show(w io.Writer) {
	mem := systemMemory()
	fmt.Fprintf(w, "System:\n")
	fmt.Fprintf(w, "  RAM: %.1f GB total, %.1f GB available\n", float64(mem.Total)/GB, float64(mem.Available)/GB)
	if fast := detectWorkers(); fast < runtime.NumCPU() {
		fmt.Fprintf(w, "  CPU cores: %d (%d performance)\n", runtime.NumCPU(), fast)
	} else {
		fmt.Fprintf(w, "  CPU cores: %d\n", runtime.NumCPU())
	}
	fmt.Fprintf(w, "Options:\n")
	fmt.Fprintf(w, "  Workers: %d\n", o.Workers)
	fmt.Fprintf(w, "  Records per slice: %d\n", o.RecordsPerSlice)
	fmt.Fprintf(w, "  Slices per container: %d\n", o.SlicesPerContainer)
	fmt.Fprintf(w, "  Compression: %v (level %d)\n", o.Method, o.Level)
	fmt.Fprintf(w, "  Read names: %v\n", o.PreserveReadNames)
	fmt.Fprintf(w, "  Quality policy: %T\n", o.QualityPolicy)
}

// SystemMemory holds the machine's memory in bytes.
type SystemMemory struct {
	Total     int64
	Available int64
}

func systemMemory() SystemMemory {
	total, available := detectMemory()
	if total == 0 {
		total, available = 16*GB, 12*GB
	}
	return SystemMemory{Total: total, Available: available}
}

// ParseMethod parses a block compression method name: raw, gzip or zstd.
func ParseMethod(s string) (structure.Method, error) {
	switch strings.ToLower(s) {
	case "raw", "none":
		return structure.Raw, nil
	case "gzip", "":
		return structure.Gzip, nil
	case "zstd":
		return structure.Zstd, nil
	}
	return 0, fmt.Errorf("unknown compression method %q (raw, gzip, zstd)", s)
}

// ParseQualityPolicy parses a quality policy name: all, none, mismatches,
// coverage:N or variants:N.
func ParseQualityPolicy(s string) (transcode.QualityPolicy, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(s), ":")
	switch {
	case name == "all" && !hasArg:
		return transcode.PreserveAll{}, nil
	case name == "none" && !hasArg:
		return transcode.PreserveNone{}, nil
	case name == "mismatches" && !hasArg:
		return transcode.PreserveMismatches{}, nil
	case name == "coverage" && hasArg:
		depth, err := strconv.Atoi(arg)
		if err != nil || depth < 1 {
			return nil, fmt.Errorf("invalid coverage depth %q", arg)
		}
		return transcode.PreserveBelowCoverage{Depth: int32(depth)}, nil
	case name == "variants" && hasArg:
		reads, err := strconv.Atoi(arg)
		if err != nil || reads < 1 {
			return nil, fmt.Errorf("invalid variant read count %q", arg)
		}
		return transcode.PreserveVariantSites{Reads: int32(reads)}, nil
	}
	return nil, fmt.Errorf("unknown quality policy %q (all, none, mismatches, coverage:N, variants:N)", s)
}
