package cram

import (
	"fmt"
	"io"

	"github.com/biogo/hts/sam"
	"go.uber.org/zap"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/cramio"
	"github.com/scttfrdmn/cram-go/pkg/reference"
	"github.com/scttfrdmn/cram-go/pkg/structure"
	"github.com/scttfrdmn/cram-go/pkg/transcode"
)

// Reader reads alignment records from a CRAM stream.
type Reader struct {
	opts *Options
	log  *zap.SugaredLogger

	dec    *cramio.Decoder
	comp   *cramio.Compressor
	tc     *transcode.Transcoder
	src    reference.Source
	header *sam.Header
	fileID [cramio.FileIDLength]byte

	buf     []*sam.Record
	next    int
	skipped int
	err     error
}

// NewReader reads the file definition and SAM header from r. src supplies
// the reference bases of mapped records; it may be nil for streams without
// mapped bases. A nil opts selects DefaultOptions.
func NewReader(r io.Reader, src reference.Source, opts *Options, logger *zap.Logger) (*Reader, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	comp, err := cramio.NewCompressor(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	dec := cramio.NewDecoder(r, comp)
	fd, err := dec.ReadFileDefinition()
	if err != nil {
		comp.Close()
		return nil, err
	}
	text, err := dec.ReadSAMHeader()
	if err != nil {
		comp.Close()
		return nil, err
	}
	h, err := sam.NewHeader(text, nil)
	if err != nil {
		comp.Close()
		return nil, fmt.Errorf("%w: failed to parse SAM header: %v", cramerr.ErrMalformedHeader, err)
	}
	return &Reader{
		opts:   opts,
		log:    logger.Sugar(),
		dec:    dec,
		comp:   comp,
		tc:     transcode.New(transcode.Config{Header: h, NamePrefix: opts.NamePrefix}),
		src:    src,
		header: h,
		fileID: fd.ID,
	}, nil
}

// Header returns the SAM header of the stream.
func (r *Reader) Header() *sam.Header { return r.header }

// FileID returns the file identifier from the file definition.
func (r *Reader) FileID() [cramio.FileIDLength]byte { return r.fileID }

// SetReference replaces the reference source, for callers that need the
// SAM header to open it. It applies to containers not yet read.
func (r *Reader) SetReference(src reference.Source) { r.src = src }

// Containers returns the number of data containers read so far.
func (r *Reader) Containers() int { return r.dec.Containers() }

// Skipped returns the number of containers skipped as corrupt.
func (r *Reader) Skipped() int { return r.skipped }

// Read returns the next record, or io.EOF after the last one.
func (r *Reader) Read() (*sam.Record, error) {
	for r.next >= len(r.buf) {
		if r.err != nil {
			return nil, r.err
		}
		r.buf, r.next = nil, 0
		if err := r.fill(); err != nil {
			r.err = err
		}
	}
	rec := r.buf[r.next]
	r.buf[r.next] = nil
	r.next++
	return rec, nil
}

// Close releases the decompressors. The underlying reader is not closed.
func (r *Reader) Close() error { return r.comp.Close() }

// fill decodes containers until one yields records.
func (r *Reader) fill() error {
	for len(r.buf) == 0 {
		c, err := r.dec.ReadContainer()
		if err == io.EOF {
			return io.EOF
		}
		if err == nil {
			r.buf, err = r.decodeContainer(r.dec.Containers()-1, c)
		}
		if err == nil {
			continue
		}
		if !r.opts.SkipCorruptContainers || !cramerr.IsRecoverable(err) {
			return err
		}
		r.skipped++
		r.buf = nil
		r.log.Warnw("skipping corrupt container", "container", r.dec.Containers()-1, "error", err)
	}
	return nil
}

func (r *Reader) decodeContainer(index int, c *structure.Container) ([]*sam.Record, error) {
	var out []*sam.Record
	for i, s := range c.Slices {
		recs, err := r.decodeSlice(c.Compression, s)
		if err != nil {
			return nil, &cramerr.SliceError{Container: index, Slice: i, Err: err}
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (r *Reader) decodeSlice(h *structure.CompressionHeader, s *structure.Slice) ([]*sam.Record, error) {
	sh := s.Header
	if sh.SequenceID == structure.MultipleReferences {
		return nil, fmt.Errorf("%w: slice of %d records", cramerr.ErrMultipleReferences, sh.RecordCount)
	}
	recs, err := r.tc.DecodeSlice(h, s)
	if err != nil {
		return nil, err
	}
	w, err := r.window(&sh)
	if err != nil {
		return nil, err
	}
	return r.tc.ToAlignmentRecords(recs, w, h.Matrix)
}

// window loads the reference span of a slice and checks its MD5.
func (r *Reader) window(sh *structure.SliceHeader) (*reference.Window, error) {
	if r.src == nil || sh.SequenceID < 0 || sh.AlignmentSpan <= 0 {
		return nil, nil
	}
	start, span := int64(sh.AlignmentStart), int64(sh.AlignmentSpan)
	w, err := reference.Load(r.src, sh.SequenceID, start, start+span-1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cramerr.ErrNoReference, err)
	}
	if !r.opts.VerifyReference || sh.ReferenceMD5 == [16]byte{} {
		return w, nil
	}
	sum, err := transcode.ReferenceMD5(w, start, span)
	if err != nil {
		return nil, err
	}
	if sum != sh.ReferenceMD5 {
		return nil, fmt.Errorf("%w: reference %d at %d+%d", cramerr.ErrReferenceMD5, sh.SequenceID, start, span)
	}
	return w, nil
}
