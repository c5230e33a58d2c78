package cram

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/biogo/hts/sam"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scttfrdmn/cram-go/pkg/cramio"
	"github.com/scttfrdmn/cram-go/pkg/reference"
	"github.com/scttfrdmn/cram-go/pkg/transcode"
)

// Writer writes alignment records as a CRAM stream. Records are grouped
// into containers of one reference each and encoded by a worker pool;
// containers reach the stream in the order their records were written.
type Writer struct {
	opts *Options
	log  *zap.SugaredLogger

	enc      *cramio.Encoder
	comp     *cramio.Compressor
	tc       *transcode.Transcoder
	src      reference.Source
	pipeline *ParallelEncoder

	pending    []*sam.Record
	pendingRef int32
	counter    int64
	containers int
	closed     bool
	err        error
}

// NewWriter writes the file definition and SAM header of h to w and returns
// a writer for its records. src supplies the reference bases of mapped
// records; it may be nil when no mapped record carries bases. A nil opts
// selects DefaultOptions.
func NewWriter(w io.Writer, h *sam.Header, src reference.Source, opts *Options, logger *zap.Logger) (*Writer, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	text, err := h.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SAM header: %w", err)
	}
	comp, err := cramio.NewCompressor(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	enc := cramio.NewEncoder(w, comp, opts.Method)
	id := uuid.New()
	if err := enc.WriteFileDefinition(cramio.NewFileDefinition(id[:])); err != nil {
		comp.Close()
		return nil, err
	}
	if err := enc.WriteSAMHeader(text); err != nil {
		comp.Close()
		return nil, err
	}

	cw := &Writer{
		opts: opts,
		log:  logger.Sugar(),
		enc:  enc,
		comp: comp,
		tc: transcode.New(transcode.Config{
			Header:            h,
			Policy:            opts.QualityPolicy,
			PreserveReadNames: opts.PreserveReadNames,
			NamePrefix:        opts.NamePrefix,
		}),
		src: src,
	}
	cw.pipeline = NewParallelEncoder(context.Background(), opts.Workers, enc.WriteRaw, logger)
	cw.log.Debugw("writing CRAM", "file_id", id.String(), "workers", opts.Workers,
		"records_per_slice", opts.RecordsPerSlice, "slices_per_container", opts.SlicesPerContainer)
	return cw, nil
}

// Write queues r. A container is submitted for encoding when the reference
// changes or the container is full.
func (w *Writer) Write(r *sam.Record) error {
	if w.closed {
		return errors.New("write to closed CRAM writer")
	}
	if w.err != nil {
		return w.err
	}
	ref := int32(-1)
	if r.Ref != nil {
		ref = int32(r.Ref.ID())
	}
	if len(w.pending) > 0 && ref != w.pendingRef {
		if err := w.flush(); err != nil {
			return err
		}
	}
	w.pendingRef = ref
	w.pending = append(w.pending, r)
	if len(w.pending) >= w.opts.RecordsPerSlice*w.opts.SlicesPerContainer {
		return w.flush()
	}
	return nil
}

// Records returns the number of records written so far.
func (w *Writer) Records() int64 { return w.counter + int64(len(w.pending)) }

// Containers returns the number of data containers submitted so far.
func (w *Writer) Containers() int { return w.containers }

// Written returns the bytes written to the stream so far.
func (w *Writer) Written() int64 { return w.enc.Written() }

func (w *Writer) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	job := &containerJob{index: w.containers, counter: w.counter}
	for recs := w.pending; len(recs) > 0; {
		n := min(len(recs), w.opts.RecordsPerSlice)
		job.slices = append(job.slices, recs[:n])
		recs = recs[n:]
	}
	w.counter += int64(len(w.pending))
	w.containers++
	w.pending = nil

	err := w.pipeline.Submit(func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := encodeContainer(w.tc, w.src, job, w.comp, w.opts.Method)
		if err != nil {
			return nil, fmt.Errorf("failed to encode container %d: %w", job.index, err)
		}
		w.log.Debugw("encoded container", "container", job.index, "records", job.records(),
			"slices", len(job.slices), "bytes", len(data))
		return data, nil
	})
	if err != nil {
		// the pipeline was cancelled by an earlier failure
		w.err = err
		if werr := w.pipeline.Wait(); werr != nil {
			w.err = werr
		}
		return w.err
	}
	return nil
}

// Close flushes the pending records, waits for every container and writes
// the end-of-file container. The underlying writer is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.comp.Close()

	if w.err != nil {
		return w.err
	}
	flushErr := w.flush()
	if err := w.pipeline.Wait(); err != nil {
		return err
	}
	if flushErr != nil {
		return flushErr
	}
	if err := w.enc.WriteEOF(); err != nil {
		return err
	}
	w.log.Debugw("closed CRAM writer", "records", w.counter, "containers", w.containers, "bytes", w.enc.Written())
	return nil
}
