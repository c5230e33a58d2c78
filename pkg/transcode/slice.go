package transcode

import (
	"fmt"

	"github.com/scttfrdmn/cram-go/pkg/codec"
	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/reference"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// SliceBounds returns the reference id and the 1-based span covered by
// recs. The id is MultipleReferences when the records disagree; start and
// span are 0 when no record is placed.
func SliceBounds(recs []*structure.Record) (id int32, start, span int64) {
	if len(recs) == 0 {
		return structure.Unmapped, 0, 0
	}
	id = recs[0].SequenceID
	var end int64
	for _, r := range recs {
		if r.SequenceID != id {
			id = structure.MultipleReferences
		}
		if !r.IsPlaced() {
			continue
		}
		if start == 0 || r.AlignmentStart < start {
			start = r.AlignmentStart
		}
		end = max(end, r.AlignmentEnd())
	}
	if start == 0 {
		return id, 0, 0
	}
	return id, start, end - start + 1
}

// EncodeSlice encodes recs with the encodings of h into a slice. counter is
// the file-wide index of recs[0]. When w is given, the slice header carries
// the MD5 of the reference bases the slice spans.
func (t *Transcoder) EncodeSlice(h *structure.CompressionHeader, recs []*structure.Record, counter int64, w *reference.Window) (*structure.Slice, error) {
	for i, r := range recs {
		if !r.IsMapped() {
			continue
		}
		if err := structure.CheckFeatures(r.Features, r.ReadLength); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	id, start, span := SliceBounds(recs)
	sh := structure.SliceHeader{
		SequenceID:        id,
		AlignmentStart:    int32(start),
		AlignmentSpan:     int32(span),
		RecordCount:       int32(len(recs)),
		RecordCounter:     counter,
		EmbeddedReference: -1,
	}
	if w != nil && id >= 0 && span > 0 {
		sum, err := ReferenceMD5(w, start, span)
		if err != nil {
			return nil, fmt.Errorf("failed to digest slice reference: %w", err)
		}
		sh.ReferenceMD5 = sum
	}

	s := codec.NewWriteStreams()
	c, err := bindRecordIO(writing, h, s, id == structure.MultipleReferences, start)
	if err != nil {
		return nil, err
	}
	for i, r := range recs {
		if err := c.record(r); err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}

	out := &structure.Slice{
		Header:   sh,
		Core:     &structure.Block{ContentType: structure.CoreContent, Data: s.Core()},
		External: make(map[int32]*structure.Block),
	}
	for cid, data := range s.External() {
		out.External[cid] = &structure.Block{ContentType: structure.ExternalContent, ContentID: cid, Data: data}
	}
	return out, nil
}

// DecodeSlice decodes the records of s with the encodings of h, restores
// their mate links and names records stored without one.
func (t *Transcoder) DecodeSlice(h *structure.CompressionHeader, s *structure.Slice) ([]*structure.Record, error) {
	sh := s.Header
	if sh.RecordCount < 0 {
		return nil, fmt.Errorf("%w: %d records", cramerr.ErrRecordCount, sh.RecordCount)
	}
	var core []byte
	if s.Core != nil {
		core = s.Core.Data
	}
	streams := codec.NewReadStreams(core, s.ExternalData())
	multi := sh.SequenceID == structure.MultipleReferences
	c, err := bindRecordIO(reading, h, streams, multi, int64(sh.AlignmentStart))
	if err != nil {
		return nil, err
	}
	recs := make([]*structure.Record, sh.RecordCount)
	for i := range recs {
		r := structure.NewRecord()
		r.Index = i
		if !multi {
			r.SequenceID = sh.SequenceID
		}
		if err := c.record(r); err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", i, err)
		}
		recs[i] = r
	}
	if err := RestoreMates(recs); err != nil {
		return nil, err
	}
	t.NameRecords(recs, sh.RecordCounter)
	return recs, nil
}

// ReferenceMD5 digests the bases of [start, start+span) in w, clipped to
// the end of w.
func ReferenceMD5(w *reference.Window, start, span int64) ([16]byte, error) {
	end := min(start+span-1, w.End())
	return w.MD5(start, end)
}
