// Package bam converts between BAM (or SAM) streams and CRAM.
package bam

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"go.uber.org/zap"

	"github.com/scttfrdmn/cram-go/pkg/cram"
	"github.com/scttfrdmn/cram-go/pkg/reference"
)

// progressInterval is the number of records between progress log lines.
const progressInterval = 100000

// AlignmentReader is a source of alignment records, such as a BAM or SAM
// reader.
type AlignmentReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

var gzipMagic = []byte{0x1f, 0x8b}

// OpenAlignments returns a reader for a BAM or SAM stream. BAM is detected
// by its BGZF magic; anything else is read as SAM text.
func OpenAlignments(r io.Reader) (AlignmentReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if bytes.Equal(magic, gzipMagic) {
		br, err := bam.NewReader(br, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to create BAM reader: %w", err)
		}
		return br, nil
	}
	sr, err := sam.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to create SAM reader: %w", err)
	}
	return sr, nil
}

// ToCramOptions configures BAM to CRAM conversion
type ToCramOptions struct {
	// Reference is the indexed FASTA of the input, local or s3://. It may be
	// empty when no mapped record carries bases.
	Reference string
	Cram      *cram.Options
}

// Summary reports a finished conversion.
type Summary struct {
	Records    int64
	Skipped    int64
	Containers int
	Bytes      int64
}

// ConvertToCRAM reads BAM or SAM from in and writes CRAM to out.
func ConvertToCRAM(ctx context.Context, in io.Reader, out io.Writer, opts ToCramOptions, logger *zap.Logger) (*Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Sugar()

	ar, err := OpenAlignments(in)
	if err != nil {
		return nil, err
	}
	if c, ok := ar.(io.Closer); ok {
		defer c.Close()
	}
	header := ar.Header()

	var src reference.Source
	if opts.Reference != "" {
		s, closer, err := cram.OpenReference(ctx, opts.Reference, header)
		if err != nil {
			return nil, fmt.Errorf("failed to open reference: %w", err)
		}
		defer closer.Close()
		src = s
	}

	w, err := cram.NewWriter(out, header, src, opts.Cram, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRAM writer: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			w.Close()
			return nil, err
		}
		record, err := ar.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to read alignment record: %w", err)
		}
		if err := w.Write(record); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to write record %s: %w", record.Name, err)
		}
		if n := w.Records(); n%progressInterval == 0 {
			log.Infow("converting", "records", n, "containers", w.Containers())
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish CRAM: %w", err)
	}

	s := &Summary{Records: w.Records(), Containers: w.Containers(), Bytes: w.Written()}
	log.Infow("conversion complete", "records", s.Records, "containers", s.Containers, "bytes", s.Bytes)
	return s, nil
}
