package transcode

import (
	"fmt"

	"github.com/biogo/hts/sam"
	"github.com/willf/bitset"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// LinkMates decides per record whether its mate is attached (a later record
// of recs, reached through RecordsToNextFragment) or detached (mate fields
// stored inline). A primary pair is attached only when the mate fields both
// records carry are exactly what decoding recomputes from the other record.
// Records without mate information get neither flag.
func LinkMates(recs []*structure.Record) {
	for _, r := range recs {
		r.CompressionFlags &^= structure.Detached | structure.MateDownstream
		r.RecordsToNextFragment = -1
		r.Next, r.Previous = structure.NoLink, structure.NoLink
	}

	linked := bitset.New(uint(len(recs)))
	open := make(map[string]int)
	for i, r := range recs {
		if !primaryPaired(r) || len(r.ReadName) == 0 {
			continue
		}
		name := string(r.ReadName)
		j, ok := open[name]
		if !ok {
			open[name] = i
			continue
		}
		delete(open, name)
		a := recs[j]
		if !mateAgrees(a, r) || !mateAgrees(r, a) {
			continue
		}
		a.SetMateDownstream(int32(i - j))
		a.Next, r.Previous = i, j
		linked.Set(uint(j))
		linked.Set(uint(i))
	}

	for i, r := range recs {
		if linked.Test(uint(i)) {
			continue
		}
		if r.Flags&sam.Paired != 0 || hasMateFields(r) {
			r.SetDetached()
		}
	}
}

func primaryPaired(r *structure.Record) bool {
	return r.Flags&sam.Paired != 0 && r.Flags&(sam.Secondary|sam.Supplementary) == 0
}

func hasMateFields(r *structure.Record) bool {
	return r.MateSequenceID != structure.Unmapped || r.MateAlignmentStart != 0 || r.TemplateSize != 0 || r.MateFlags != 0
}

// mateAgrees reports whether r's stored mate fields match mate.
func mateAgrees(r, mate *structure.Record) bool {
	var mf structure.MateFlags
	if mate.Flags&sam.Reverse != 0 {
		mf |= structure.MateReverse
	}
	if !mate.IsMapped() {
		mf |= structure.MateUnmapped
	}
	return r.MateSequenceID == mate.SequenceID &&
		r.MateAlignmentStart == mate.AlignmentStart &&
		r.MateFlags == mf &&
		r.TemplateSize == templateLength(r, mate)
}

// RestoreMates sets Next and Previous from the RecordsToNextFragment
// distances, then pairs detached records by name with RestoreTemplates.
func RestoreMates(recs []*structure.Record) error {
	for _, r := range recs {
		r.Next, r.Previous = structure.NoLink, structure.NoLink
	}
	for i, r := range recs {
		if !r.HasMateDownstream() {
			continue
		}
		j := i + int(r.RecordsToNextFragment)
		if r.RecordsToNextFragment <= 0 || j >= len(recs) {
			return fmt.Errorf("%w: record %d links %d records ahead in a slice of %d",
				cramerr.ErrRecordCount, i, r.RecordsToNextFragment, len(recs))
		}
		if recs[j].Previous != structure.NoLink {
			return fmt.Errorf("%w: record %d is the mate of both %d and %d",
				cramerr.ErrRecordCount, j, recs[j].Previous, i)
		}
		r.Next, recs[j].Previous = j, i
	}
	RestoreTemplates(recs)
	return nil
}

// RestoreTemplates links detached records sharing a read name. The first
// unlinked record with the same name wins.
func RestoreTemplates(recs []*structure.Record) {
	open := make(map[string]int)
	for i, r := range recs {
		if !r.IsDetached() || len(r.ReadName) == 0 || r.Next != structure.NoLink || r.Previous != structure.NoLink {
			continue
		}
		name := string(r.ReadName)
		if j, ok := open[name]; ok {
			recs[j].Next, r.Previous = i, j
			delete(open, name)
			continue
		}
		open[name] = i
	}
}

// mateOf returns the index of r's attached mate, or NoLink.
func mateOf(recs []*structure.Record, i int) int {
	r := recs[i]
	switch {
	case r.IsDetached():
		return structure.NoLink
	case r.HasMateDownstream():
		return r.Next
	case r.Previous != structure.NoLink && recs[r.Previous].HasMateDownstream():
		return r.Previous
	}
	return structure.NoLink
}

// templateLength computes the observed template length of r from the
// outermost 5' ends of r and its mate; the leftmost read gets the positive
// value. Reads on different sequences or unmapped reads give 0.
func templateLength(r, mate *structure.Record) int32 {
	if !r.IsMapped() || !mate.IsMapped() || r.SequenceID != mate.SequenceID {
		return 0
	}
	fivePrime := func(x *structure.Record) int64 {
		if x.Flags&sam.Reverse != 0 {
			return x.AlignmentEnd()
		}
		return x.AlignmentStart
	}
	a, b := fivePrime(r), fivePrime(mate)
	if a <= b {
		return int32(b - a + 1)
	}
	return int32(b - a - 1)
}
