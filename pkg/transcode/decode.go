package transcode

import (
	"fmt"
	"strconv"

	"github.com/biogo/hts/sam"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/reference"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// ToAlignmentRecords converts decoded CRAM records back to alignment
// records. Mapped records read their matching bases from w; m resolves
// substitution codes. Mate links are restored from the records first.
func (t *Transcoder) ToAlignmentRecords(recs []*structure.Record, w *reference.Window, m structure.SubstitutionMatrix) ([]*sam.Record, error) {
	if err := RestoreMates(recs); err != nil {
		return nil, err
	}
	t.NameRecords(recs, 0)
	out := make([]*sam.Record, len(recs))
	for i, r := range recs {
		ar, err := t.toAlignment(r, w, m)
		if err != nil {
			return nil, fmt.Errorf("failed to restore record %d (%s): %w", i, r.ReadName, err)
		}
		out[i] = ar
	}
	for i := range recs {
		if err := t.mateFields(out, recs, i); err != nil {
			return nil, fmt.Errorf("failed to restore mate of record %d: %w", i, err)
		}
	}
	return out, nil
}

// NameRecords gives every unnamed record a generated name. Attached mates
// share the name of the first record of their pair; others are named after
// their position counter+index in the file.
func (t *Transcoder) NameRecords(recs []*structure.Record, counter int64) {
	for i, r := range recs {
		if len(r.ReadName) > 0 {
			continue
		}
		if j := mateOf(recs, i); j != structure.NoLink && j < i && len(recs[j].ReadName) > 0 {
			r.ReadName = recs[j].ReadName
			continue
		}
		name := make([]byte, 0, len(t.cfg.NamePrefix)+12)
		name = append(name, t.cfg.NamePrefix...)
		name = append(name, '.')
		r.ReadName = strconv.AppendInt(name, counter+int64(i)+1, 10)
	}
}

func (t *Transcoder) toAlignment(r *structure.Record, w *reference.Window, m structure.SubstitutionMatrix) (*sam.Record, error) {
	ref, err := t.reference(r.SequenceID)
	if err != nil {
		return nil, err
	}
	out := &sam.Record{
		Name:    string(r.ReadName),
		Ref:     ref,
		Pos:     int(r.AlignmentStart) - 1,
		MapQ:    byte(r.MappingQuality),
		Flags:   r.Flags,
		MatePos: -1,
	}
	noSeq := r.CompressionFlags&structure.NoSequence != 0

	bases := r.Bases
	if r.IsMapped() {
		if !r.IsPlaced() {
			return nil, fmt.Errorf("mapped record has no reference position")
		}
		if !noSeq && (w == nil || w.SequenceID != r.SequenceID) {
			return nil, fmt.Errorf("%w: record on sequence %d", cramerr.ErrNoReference, r.SequenceID)
		}
		bases, out.Cigar, err = restoreRead(r, w, m, noSeq)
		if err != nil {
			return nil, err
		}
	}
	if !noSeq {
		out.Seq = sam.NewSeq(bases)
		out.Qual = qualities(r)
	}

	for _, tag := range r.Tags {
		k := tag.Key.Tag()
		aux := append([]byte{k[0], k[1], tag.Key.Type()}, tag.Value...)
		out.AuxFields = append(out.AuxFields, sam.Aux(aux))
	}
	if r.ReadGroupID >= 0 && int(r.ReadGroupID) < len(t.readGroups) && out.AuxFields.Get(rgTag) == nil {
		aux, err := sam.NewAux(rgTag, t.readGroups[r.ReadGroupID].Name())
		if err != nil {
			return nil, fmt.Errorf("failed to add read group: %w", err)
		}
		out.AuxFields = append(out.AuxFields, aux)
	}
	return out, nil
}

// restoreRead rebuilds the bases and CIGAR of a mapped record from its
// features, copying reference bases between them.
func restoreRead(r *structure.Record, w *reference.Window, m structure.SubstitutionMatrix, noSeq bool) ([]byte, sam.Cigar, error) {
	if err := structure.CheckFeatures(r.Features, r.ReadLength); err != nil {
		return nil, nil, err
	}
	n := int(r.ReadLength)
	var bases []byte
	if !noSeq {
		bases = make([]byte, n)
	}
	var cigar cigarBuilder
	readPos, refPos := 1, r.AlignmentStart

	// match copies reference bases up to, not including, read position end.
	match := func(end int) error {
		k := end - readPos
		if k <= 0 {
			return nil
		}
		if !noSeq {
			seg, err := w.Range(refPos, refPos+int64(k)-1)
			if err != nil {
				return err
			}
			copy(bases[readPos-1:], seg)
		}
		cigar.add(sam.CigarMatch, k)
		readPos += k
		refPos += int64(k)
		return nil
	}

	for _, f := range r.Features {
		if f.Code == structure.BaseQualityScore {
			continue
		}
		if err := match(int(f.Position)); err != nil {
			return nil, nil, err
		}
		switch f.Code {
		case structure.Substitution, structure.ReadBase:
			if !noSeq {
				b := f.Base
				if f.Code == structure.Substitution {
					ref, err := w.BaseAt(refPos)
					if err != nil {
						return nil, nil, err
					}
					b = m.Base(ref, f.SubstitutionCode)
				}
				bases[readPos-1] = b
			}
			cigar.add(sam.CigarMatch, 1)
			readPos++
			refPos++
		case structure.Insertion, structure.SoftClip:
			if !noSeq {
				copy(bases[readPos-1:], f.Bases)
			}
			op := sam.CigarInsertion
			if f.Code == structure.SoftClip {
				op = sam.CigarSoftClipped
			}
			cigar.add(op, len(f.Bases))
			readPos += len(f.Bases)
		case structure.InsertBase:
			if !noSeq {
				bases[readPos-1] = f.Base
			}
			cigar.add(sam.CigarInsertion, 1)
			readPos++
		case structure.Deletion, structure.RefSkip:
			if !noSeq && !w.Contains(refPos, refPos+int64(f.Length)-1) {
				return nil, nil, fmt.Errorf("%w: %v at reference %d", cramerr.ErrOutOfWindow, f, refPos)
			}
			op := sam.CigarDeletion
			if f.Code == structure.RefSkip {
				op = sam.CigarSkipped
			}
			cigar.add(op, int(f.Length))
			refPos += int64(f.Length)
		case structure.HardClip:
			cigar.add(sam.CigarHardClipped, int(f.Length))
		case structure.Padding:
			cigar.add(sam.CigarPadded, int(f.Length))
		}
	}
	if err := match(n + 1); err != nil {
		return nil, nil, err
	}
	return bases, cigar.ops, nil
}

// cigarBuilder appends operations, merging runs of the same type.
type cigarBuilder struct {
	ops sam.Cigar
}

func (b *cigarBuilder) add(t sam.CigarOpType, n int) {
	if n <= 0 {
		return
	}
	if last := len(b.ops) - 1; last >= 0 && b.ops[last].Type() == t {
		b.ops[last] = sam.NewCigarOp(t, b.ops[last].Len()+n)
		return
	}
	b.ops = append(b.ops, sam.NewCigarOp(t, n))
}

// qualities returns the read's scores: the stored array, or the scores of
// its features over DefaultQuality, or all MissingQuality when nothing was
// kept.
func qualities(r *structure.Record) []byte {
	if r.CompressionFlags&structure.QualityAsArray != 0 {
		return r.Qualities
	}
	q := make([]byte, r.ReadLength)
	fill := byte(MissingQuality)
	for _, f := range r.Features {
		if (f.Code == structure.BaseQualityScore || f.Code == structure.ReadBase) && f.Quality != MissingQuality {
			fill = DefaultQuality
			break
		}
	}
	for i := range q {
		q[i] = fill
	}
	if fill == MissingQuality {
		return q
	}
	for _, f := range r.Features {
		if (f.Code == structure.BaseQualityScore || f.Code == structure.ReadBase) && f.Quality != MissingQuality {
			q[f.Position-1] = f.Quality
		}
	}
	return q
}

// mateFields fills the mate columns of out[i] from the detached stub or
// from the attached mate record.
func (t *Transcoder) mateFields(out []*sam.Record, recs []*structure.Record, i int) error {
	r, o := recs[i], out[i]
	if r.IsDetached() {
		ref, err := t.reference(r.MateSequenceID)
		if err != nil {
			return err
		}
		o.MateRef = ref
		o.MatePos = int(r.MateAlignmentStart) - 1
		o.TempLen = int(r.TemplateSize)
		return nil
	}
	j := mateOf(recs, i)
	if j == structure.NoLink {
		o.MateRef, o.MatePos, o.TempLen = nil, -1, 0
		return nil
	}
	o.MateRef = out[j].Ref
	o.MatePos = out[j].Pos
	o.TempLen = int(templateLength(r, recs[j]))
	return nil
}
