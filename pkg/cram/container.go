package cram

import (
	"fmt"

	"github.com/biogo/hts/sam"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/cramio"
	"github.com/scttfrdmn/cram-go/pkg/reference"
	"github.com/scttfrdmn/cram-go/pkg/structure"
	"github.com/scttfrdmn/cram-go/pkg/transcode"
)

// containerJob is one container worth of alignment records, split into
// slices, waiting to be encoded.
type containerJob struct {
	index   int
	counter int64
	slices  [][]*sam.Record
}

func (j *containerJob) records() int {
	n := 0
	for _, s := range j.slices {
		n += len(s)
	}
	return n
}

// encodeContainer converts, encodes and compresses one container.
func encodeContainer(tc *transcode.Transcoder, src reference.Source, j *containerJob, comp *cramio.Compressor, method structure.Method) ([]byte, error) {
	w, err := loadWindow(src, j.slices)
	if err != nil {
		return nil, err
	}

	cramSlices := make([][]*structure.Record, len(j.slices))
	for i, recs := range j.slices {
		if cramSlices[i], err = tc.ToCramRecords(recs, w); err != nil {
			return nil, fmt.Errorf("slice %d: %w", i, err)
		}
	}
	h, err := tc.BuildCompressionHeader(cramSlices)
	if err != nil {
		return nil, fmt.Errorf("failed to build compression header: %w", err)
	}

	c := &structure.Container{Compression: h}
	counter := j.counter
	var start, end int64
	var bases int64
	id := int32(structure.Unmapped)
	for i, recs := range cramSlices {
		s, err := tc.EncodeSlice(h, recs, counter, w)
		if err != nil {
			return nil, fmt.Errorf("failed to encode slice %d: %w", i, err)
		}
		c.Slices = append(c.Slices, s)
		counter += int64(len(recs))
		for _, r := range recs {
			bases += int64(r.ReadLength)
		}

		sh := s.Header
		if i == 0 {
			id = sh.SequenceID
		} else if id != sh.SequenceID {
			id = structure.MultipleReferences
		}
		if sh.AlignmentSpan > 0 {
			if start == 0 || int64(sh.AlignmentStart) < start {
				start = int64(sh.AlignmentStart)
			}
			end = max(end, int64(sh.AlignmentStart)+int64(sh.AlignmentSpan)-1)
		}
	}

	c.Header = structure.ContainerHeader{
		SequenceID:    id,
		RecordCount:   int32(counter - j.counter),
		RecordCounter: j.counter,
		Bases:         bases,
	}
	if start > 0 {
		c.Header.AlignmentStart = int32(start)
		c.Header.AlignmentSpan = int32(end - start + 1)
	}
	return cramio.EncodeContainer(c, comp, method)
}

// loadWindow loads the reference bases covered by the placed records of a
// container. It returns nil when no record is placed, or when src is nil and
// no placed record carries bases.
func loadWindow(src reference.Source, slices [][]*sam.Record) (*reference.Window, error) {
	id := int32(structure.Unmapped)
	var start, end int64
	needBases := false
	for _, recs := range slices {
		for _, r := range recs {
			if r.Ref == nil || r.Pos < 0 {
				continue
			}
			if id == structure.Unmapped {
				id = int32(r.Ref.ID())
			} else if id != int32(r.Ref.ID()) {
				return nil, fmt.Errorf("container spans references %d and %d", id, r.Ref.ID())
			}
			s := int64(r.Pos) + 1
			e := s + int64(r.Len()) - 1
			if r.Flags&sam.Unmapped != 0 {
				e = s + int64(r.Seq.Length) - 1
			} else if r.Seq.Length > 0 {
				needBases = true
			}
			if start == 0 || s < start {
				start = s
			}
			end = max(end, e)
		}
	}
	if id == structure.Unmapped {
		return nil, nil
	}
	if src == nil {
		if needBases {
			return nil, fmt.Errorf("%w: reference %d", cramerr.ErrNoReference, id)
		}
		return nil, nil
	}
	w, err := reference.Load(src, id, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference %d:%d-%d: %w", id, start, end, err)
	}
	return w, nil
}
