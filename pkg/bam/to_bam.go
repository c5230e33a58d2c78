package bam

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"go.uber.org/zap"

	"github.com/scttfrdmn/cram-go/pkg/cram"
)

// Output formats
const (
	FormatBAM = "bam"
	FormatSAM = "sam"
)

// ToBamOptions configures CRAM export behavior
type ToBamOptions struct {
	Region    string // Optional region filter (chr:start-end or chr)
	Format    string // FormatBAM (default) or FormatSAM
	Reference string // Indexed FASTA, local or s3://
	Cram      *cram.Options
}

// Region is a 1-based inclusive reference interval. End -1 selects the
// whole reference.
type Region struct {
	Reference string
	Start     int
	End       int
}

// ParseRegion parses a region string (chr:start-end or chr).
func ParseRegion(regionStr string) (Region, error) {
	i := strings.LastIndex(regionStr, ":")
	if i < 0 {
		if regionStr == "" {
			return Region{}, fmt.Errorf("empty region")
		}
		return Region{Reference: regionStr, Start: 1, End: -1}, nil
	}

	ref, coords := regionStr[:i], regionStr[i+1:]
	startStr, endStr, ok := strings.Cut(coords, "-")
	if ref == "" || !ok {
		return Region{}, fmt.Errorf("invalid region format: %s (expected chr:start-end or chr)", regionStr)
	}
	start, err := strconv.Atoi(strings.ReplaceAll(startStr, ",", ""))
	if err != nil || start < 1 {
		return Region{}, fmt.Errorf("invalid start coordinate: %s", startStr)
	}
	end, err := strconv.Atoi(strings.ReplaceAll(endStr, ",", ""))
	if err != nil || end < start {
		return Region{}, fmt.Errorf("invalid end coordinate: %s", endStr)
	}
	return Region{Reference: ref, Start: start, End: end}, nil
}

// Overlaps reports whether a record aligns to at least one base of the
// region.
func (g Region) Overlaps(r *sam.Record) bool {
	if r.Ref == nil || r.Ref.Name() != g.Reference || r.Pos < 0 {
		return false
	}
	if g.End == -1 {
		return true
	}
	start := r.Pos + 1
	end := r.Pos + max(r.Len(), 1)
	return start <= g.End && end >= g.Start
}

type alignmentWriter interface {
	Write(*sam.Record) error
}

// ConvertToBAM reads CRAM from in and writes BAM or SAM to out.
func ConvertToBAM(ctx context.Context, in io.Reader, out io.Writer, opts ToBamOptions, logger *zap.Logger) (*Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Sugar()

	var region *Region
	if opts.Region != "" {
		g, err := ParseRegion(opts.Region)
		if err != nil {
			return nil, fmt.Errorf("invalid region: %w", err)
		}
		region = &g
	}

	r, err := cram.NewReader(in, nil, opts.Cram, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open CRAM: %w", err)
	}
	defer r.Close()
	header := r.Header()

	if opts.Reference != "" {
		src, closer, err := cram.OpenReference(ctx, opts.Reference, header)
		if err != nil {
			return nil, fmt.Errorf("failed to open reference: %w", err)
		}
		defer closer.Close()
		r.SetReference(src)
	}

	var w alignmentWriter
	var closeOut func() error
	switch opts.Format {
	case "", FormatBAM:
		bw, err := bam.NewWriter(out, header, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to create BAM writer: %w", err)
		}
		w, closeOut = bw, bw.Close
	case FormatSAM:
		sw, err := sam.NewWriter(out, header, sam.FlagDecimal)
		if err != nil {
			return nil, fmt.Errorf("failed to create SAM writer: %w", err)
		}
		w, closeOut = sw, func() error { return nil }
	default:
		return nil, fmt.Errorf("unknown output format %q", opts.Format)
	}

	s := &Summary{}
	for {
		if err := ctx.Err(); err != nil {
			closeOut()
			return nil, err
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeOut()
			return nil, fmt.Errorf("failed to read CRAM record: %w", err)
		}
		if region != nil && !region.Overlaps(record) {
			s.Skipped++
			continue
		}
		if err := w.Write(record); err != nil {
			closeOut()
			return nil, fmt.Errorf("failed to write read %s: %w", record.Name, err)
		}
		s.Records++
		if s.Records%progressInterval == 0 {
			log.Infow("converting", "records", s.Records)
		}
	}

	if err := closeOut(); err != nil {
		return nil, fmt.Errorf("failed to close %s writer: %w", opts.Format, err)
	}
	s.Containers = r.Containers()
	if n := r.Skipped(); n > 0 {
		log.Warnw("skipped corrupt containers", "containers", n)
	}
	log.Infow("conversion complete", "records", s.Records, "filtered", s.Skipped)
	return s, nil
}
