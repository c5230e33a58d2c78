package transcode

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/biogo/hts/sam"
	"github.com/willf/bitset"

	"github.com/scttfrdmn/cram-go/pkg/reference"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// ToCramRecords converts alignment records to CRAM records. Mapped records
// are compared against w, which must cover their aligned bases; w may be
// nil when every record is unmapped or carries no sequence. Mates inside
// recs are linked with LinkMates.
func (t *Transcoder) ToCramRecords(recs []*sam.Record, w *reference.Window) ([]*structure.Record, error) {
	var tracks *reference.Tracks
	if !lossless(t.cfg.Policy) && w != nil {
		var err error
		if tracks, err = t.coverage(recs, w); err != nil {
			return nil, fmt.Errorf("failed to compute coverage: %w", err)
		}
	}
	out := make([]*structure.Record, len(recs))
	for i, r := range recs {
		cr, err := t.toCramRecord(r, w, tracks)
		if err != nil {
			return nil, fmt.Errorf("failed to convert record %d (%s): %w", i, r.Name, err)
		}
		cr.Index = i
		out[i] = cr
	}
	LinkMates(out)
	return out, nil
}

// coverage counts per position how many records align a base there and how
// many of those bases mismatch.
func (t *Transcoder) coverage(recs []*sam.Record, w *reference.Window) (*reference.Tracks, error) {
	tr, err := reference.NewTracks(w, w.SequenceID)
	if err != nil {
		return nil, err
	}
	if err := tr.MoveForward(w.Start); err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.Flags&sam.Unmapped != 0 || refID(r.Ref) != w.SequenceID || r.Pos < 0 {
			continue
		}
		bases := r.Seq.Expand()
		readPos, refPos := 0, int64(r.Pos)+1
		for _, op := range r.Cigar {
			n := op.Len()
			con := op.Type().Consumes()
			if con.Query != 0 && con.Reference != 0 {
				start, m := refPos, n
				if start < w.Start {
					m -= int(w.Start - start)
					start = w.Start
				}
				if err := tr.AddCoverage(start, m); err != nil {
					return nil, err
				}
				for i := 0; i < n && readPos+i < len(bases); i++ {
					ref, err := w.BaseAt(refPos + int64(i))
					if err == nil && ref != bases[readPos+i] {
						if err := tr.AddMismatch(refPos + int64(i)); err != nil {
							return nil, err
						}
					}
				}
			}
			readPos += n * con.Query
			refPos += int64(n * con.Reference)
		}
	}
	return tr, nil
}

// baseInfo is what the CIGAR walk learns about each read base.
type baseInfo struct {
	refPos   []int64 // 1-based reference position, 0 when unaligned
	mismatch *bitset.BitSet
}

func (t *Transcoder) toCramRecord(r *sam.Record, w *reference.Window, tracks *reference.Tracks) (*structure.Record, error) {
	cr := structure.NewRecord()
	cr.Flags = r.Flags
	cr.SequenceID = refID(r.Ref)
	if r.Pos >= 0 {
		cr.AlignmentStart = int64(r.Pos) + 1
	}
	cr.MappingQuality = int32(r.MapQ)
	cr.ReadName = []byte(r.Name)
	cr.MateSequenceID = refID(r.MateRef)
	if r.MatePos >= 0 {
		cr.MateAlignmentStart = int64(r.MatePos) + 1
	}
	cr.TemplateSize = int32(r.TempLen)
	if r.Flags&sam.MateReverse != 0 {
		cr.MateFlags |= structure.MateReverse
	}
	if r.Flags&sam.MateUnmapped != 0 {
		cr.MateFlags |= structure.MateUnmapped
	}
	t.tags(r, cr)

	bases := r.Seq.Expand()
	quals := r.Qual
	if len(bases) == 0 {
		cr.CompressionFlags |= structure.NoSequence
	}
	hasQual := len(bases) > 0 && !missing(quals)
	if hasQual && len(quals) != len(bases) {
		return nil, fmt.Errorf("%d quality scores for %d bases", len(quals), len(bases))
	}

	var info baseInfo
	if cr.IsMapped() {
		if !cr.IsPlaced() {
			return nil, fmt.Errorf("mapped read has no reference position")
		}
		_, readLen := r.Cigar.Lengths()
		if len(bases) > 0 && readLen != len(bases) {
			return nil, fmt.Errorf("CIGAR %v covers %d bases, read has %d", r.Cigar, readLen, len(bases))
		}
		cr.ReadLength = int32(readLen)
		info = baseInfo{refPos: make([]int64, readLen), mismatch: bitset.New(uint(readLen))}
		features, err := readFeatures(r.Cigar, cr.AlignmentStart, bases, quals, hasQual, w, &info)
		if err != nil {
			return nil, err
		}
		cr.Features = features
	} else {
		cr.ReadLength = int32(len(bases))
		cr.Bases = bases
		info = baseInfo{refPos: make([]int64, len(bases)), mismatch: bitset.New(uint(len(bases)))}
	}

	if hasQual {
		t.storeQualities(cr, quals, &info, tracks)
	}
	return cr, nil
}

func (t *Transcoder) tags(r *sam.Record, cr *structure.Record) {
	for _, aux := range r.AuxFields {
		if len(aux) < 3 {
			continue
		}
		key := structure.NewTagKey(aux.Tag(), aux.Type())
		cr.Tags = append(cr.Tags, structure.Tag{Key: key, Value: append([]byte(nil), aux[3:]...)})
		if aux.Tag() == rgTag {
			if name, ok := aux.Value().(string); ok {
				if id, ok := t.rgIndex[name]; ok {
					cr.ReadGroupID = id
				}
			}
		}
	}
}

// missing reports whether q holds no scores.
func missing(q []byte) bool {
	for _, b := range q {
		if b != MissingQuality {
			return false
		}
	}
	return true
}

// readFeatures walks cigar and describes the read as edits of the reference
// in w. With no bases only the CIGAR shape is recorded.
func readFeatures(cigar sam.Cigar, start int64, bases, quals []byte, hasQual bool, w *reference.Window, info *baseInfo) ([]structure.ReadFeature, error) {
	var fs []structure.ReadFeature
	noSeq := len(bases) == 0
	readPos, refPos := 0, start
	clip := func(n int) []byte {
		if noSeq {
			return bytes.Repeat([]byte{'N'}, n)
		}
		return append([]byte(nil), bases[readPos:readPos+n]...)
	}
	for _, op := range cigar {
		n := op.Len()
		pos := int32(readPos + 1)
		switch op.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				p := readPos + i
				info.refPos[p] = refPos + int64(i)
				if noSeq {
					continue
				}
				ref, err := w.BaseAt(refPos + int64(i))
				if err != nil {
					return nil, err
				}
				read := bases[p]
				if read == ref {
					continue
				}
				info.mismatch.Set(uint(p))
				if structure.IsMatrixBase(read) && structure.BaseIndex(read) != structure.BaseIndex(ref) {
					fs = append(fs, structure.ReadFeature{
						Code:          structure.Substitution,
						Position:      int32(p + 1),
						Base:          read,
						ReferenceBase: ref,
					})
					continue
				}
				q := byte(MissingQuality)
				if hasQual {
					q = quals[p]
				}
				fs = append(fs, structure.ReadFeature{Code: structure.ReadBase, Position: int32(p + 1), Base: read, Quality: q})
			}
			readPos += n
			refPos += int64(n)
		case sam.CigarInsertion:
			fs = append(fs, structure.ReadFeature{Code: structure.Insertion, Position: pos, Bases: clip(n)})
			readPos += n
		case sam.CigarSoftClipped:
			fs = append(fs, structure.ReadFeature{Code: structure.SoftClip, Position: pos, Bases: clip(n)})
			readPos += n
		case sam.CigarDeletion:
			fs = append(fs, structure.ReadFeature{Code: structure.Deletion, Position: pos, Length: int32(n)})
			refPos += int64(n)
		case sam.CigarSkipped:
			fs = append(fs, structure.ReadFeature{Code: structure.RefSkip, Position: pos, Length: int32(n)})
			refPos += int64(n)
		case sam.CigarHardClipped:
			fs = append(fs, structure.ReadFeature{Code: structure.HardClip, Position: pos, Length: int32(n)})
		case sam.CigarPadded:
			fs = append(fs, structure.ReadFeature{Code: structure.Padding, Position: pos, Length: int32(n)})
		default:
			return nil, fmt.Errorf("unsupported CIGAR operation %v", op)
		}
	}
	return fs, nil
}

// storeQualities keeps the scores the policy selects: the whole array when
// every score is kept, otherwise per base features.
func (t *Transcoder) storeQualities(cr *structure.Record, quals []byte, info *baseInfo, tracks *reference.Tracks) {
	n := len(quals)
	if lossless(t.cfg.Policy) {
		cr.CompressionFlags |= structure.QualityAsArray
		cr.Qualities = append([]byte(nil), quals...)
		return
	}
	keep := bitset.New(uint(n))
	for p := 0; p < n; p++ {
		ctx := BaseContext{
			ReadPos:  int32(p + 1),
			RefPos:   info.refPos[p],
			Mismatch: info.mismatch.Test(uint(p)),
			Quality:  quals[p],
		}
		if tracks != nil && ctx.RefPos > 0 {
			ctx.Coverage = tracks.Coverage(ctx.RefPos)
			ctx.Mismatches = tracks.Mismatches(ctx.RefPos)
		}
		if t.cfg.Policy.Preserve(ctx) {
			keep.Set(uint(p))
		}
	}
	if keep.Count() == uint(n) {
		cr.CompressionFlags |= structure.QualityAsArray
		cr.Qualities = append([]byte(nil), quals...)
		return
	}
	if !cr.IsMapped() {
		// Unmapped reads carry no features, so partial scores are dropped.
		return
	}
	for i := range cr.Features {
		f := &cr.Features[i]
		p := uint(f.Position - 1)
		switch f.Code {
		case structure.Substitution:
			if keep.Test(p) {
				f.Code, f.Quality, f.ReferenceBase = structure.ReadBase, quals[p], 0
				keep.Clear(p)
			}
		case structure.ReadBase:
			f.Quality = MissingQuality
			if keep.Test(p) {
				f.Quality = quals[p]
				keep.Clear(p)
			}
		}
	}
	for p, ok := keep.NextSet(0); ok; p, ok = keep.NextSet(p + 1) {
		cr.Features = append(cr.Features, structure.ReadFeature{
			Code:     structure.BaseQualityScore,
			Position: int32(p + 1),
			Quality:  quals[p],
		})
	}
	sort.SliceStable(cr.Features, func(i, j int) bool {
		a, b := cr.Features[i], cr.Features[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Code != structure.BaseQualityScore && b.Code == structure.BaseQualityScore
	})
}
