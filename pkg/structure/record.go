package structure

import (
	"fmt"

	"github.com/biogo/hts/sam"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// CompressionFlags is the CF data series.
type CompressionFlags int32

// Compression flag bits
const (
	QualityAsArray CompressionFlags = 0x1
	Detached       CompressionFlags = 0x2
	MateDownstream CompressionFlags = 0x4
	NoSequence     CompressionFlags = 0x8
)

// MateFlags is the MF data series of a detached record.
type MateFlags int32

// Mate flag bits
const (
	MateReverse  MateFlags = 0x1
	MateUnmapped MateFlags = 0x2
)

// Reference id sentinels used by records, slices and containers.
const (
	Unmapped           int32 = -1
	MultipleReferences int32 = -2
)

// NoLink marks a missing Next / Previous record index.
const NoLink = -1

// Tag is one optional field: its key and the BAM binary value bytes.
type Tag struct {
	Key   TagKey
	Value []byte
}

// Record is one read in CRAM form. Mate linkage is either a same-slice
// distance (MateDownstream with RecordsToNextFragment) or a detached mate
// stub (MateFlags, MateSequenceID, MateAlignmentStart, TemplateSize), never
// both. Next and Previous are indices into the slice's record sequence.
type Record struct {
	Index            int
	Flags            sam.Flags
	CompressionFlags CompressionFlags
	SequenceID       int32
	ReadLength       int32
	AlignmentStart   int64 // 1-based, 0 when unplaced
	ReadGroupID      int32 // -1 for none
	ReadName         []byte
	MappingQuality   int32

	Features  []ReadFeature
	Bases     []byte
	Qualities []byte

	TagLine int32
	Tags    []Tag

	MateFlags             MateFlags
	MateSequenceID        int32
	MateAlignmentStart    int64
	TemplateSize          int32
	RecordsToNextFragment int32

	Next     int
	Previous int
}

// NewRecord returns an unlinked, unplaced record.
func NewRecord() *Record {
	return &Record{
		SequenceID:            Unmapped,
		ReadGroupID:           -1,
		MateSequenceID:        Unmapped,
		RecordsToNextFragment: -1,
		Next:                  NoLink,
		Previous:              NoLink,
	}
}

// IsMapped reports whether the read is aligned.
func (r *Record) IsMapped() bool { return r.Flags&sam.Unmapped == 0 }

// IsDetached reports whether the mate is described inline.
func (r *Record) IsDetached() bool { return r.CompressionFlags&Detached != 0 }

// HasMateDownstream reports whether the mate follows in the same slice.
func (r *Record) HasMateDownstream() bool { return r.CompressionFlags&MateDownstream != 0 }

// IsPlaced reports whether the read has a reference position, which
// unmapped reads placed next to their mate also have.
func (r *Record) IsPlaced() bool {
	return r.SequenceID >= 0 && r.AlignmentStart > 0
}

// SetDetached switches the record to an inline mate stub.
func (r *Record) SetDetached() {
	r.CompressionFlags |= Detached
	r.CompressionFlags &^= MateDownstream
	r.RecordsToNextFragment = -1
}

// SetMateDownstream links the record to the mate n records later.
func (r *Record) SetMateDownstream(n int32) {
	r.CompressionFlags |= MateDownstream
	r.CompressionFlags &^= Detached
	r.RecordsToNextFragment = n
}

// AlignmentSpan returns the number of reference bases the read covers.
func (r *Record) AlignmentSpan() int64 {
	if !r.IsMapped() {
		return int64(r.ReadLength)
	}
	span := int64(r.ReadLength)
	for _, f := range r.Features {
		switch f.Code {
		case Insertion, SoftClip:
			span -= int64(len(f.Bases))
		case InsertBase:
			span--
		case Deletion, RefSkip:
			span += int64(f.Length)
		}
	}
	return span
}

// AlignmentEnd returns the 1-based position of the last covered base.
func (r *Record) AlignmentEnd() int64 {
	return r.AlignmentStart + r.AlignmentSpan() - 1
}

// FeatureCode identifies a read feature.
type FeatureCode byte

// Read feature codes
const (
	ReadBase         FeatureCode = 'B' // base and quality
	Substitution     FeatureCode = 'X' // substitution code
	Insertion        FeatureCode = 'I' // inserted bases
	InsertBase       FeatureCode = 'i' // single inserted base
	Deletion         FeatureCode = 'D' // deletion length
	RefSkip          FeatureCode = 'N' // reference skip length
	SoftClip         FeatureCode = 'S' // soft clipped bases
	HardClip         FeatureCode = 'H' // hard clip length
	Padding          FeatureCode = 'P' // padding length
	BaseQualityScore FeatureCode = 'Q' // single quality score
)

// Valid reports whether c is a known feature code.
func (c FeatureCode) Valid() bool {
	switch c {
	case ReadBase, Substitution, Insertion, InsertBase, Deletion,
		RefSkip, SoftClip, HardClip, Padding, BaseQualityScore:
		return true
	}
	return false
}

func (c FeatureCode) String() string { return string(rune(c)) }

// ReadFeature is a point edit of a read against the reference. Position is
// 1-based within the read. The payload fields used depend on Code.
type ReadFeature struct {
	Code     FeatureCode
	Position int32

	Base             byte   // ReadBase, InsertBase, Substitution
	ReferenceBase    byte   // Substitution, not stored
	SubstitutionCode byte   // Substitution
	Quality          byte   // ReadBase, BaseQualityScore
	Bases            []byte // Insertion, SoftClip
	Length           int32  // Deletion, RefSkip, HardClip, Padding
}

func (f ReadFeature) String() string {
	switch f.Code {
	case Substitution:
		return fmt.Sprintf("X@%d:%d", f.Position, f.SubstitutionCode)
	case Insertion, SoftClip:
		return fmt.Sprintf("%c@%d:%s", f.Code, f.Position, f.Bases)
	case ReadBase, InsertBase:
		return fmt.Sprintf("%c@%d:%c", f.Code, f.Position, f.Base)
	case BaseQualityScore:
		return fmt.Sprintf("Q@%d:%d", f.Position, f.Quality)
	}
	return fmt.Sprintf("%c@%d:%d", f.Code, f.Position, f.Length)
}

// ReadSpan returns the number of read bases the feature consumes.
func (f ReadFeature) ReadSpan() int32 {
	switch f.Code {
	case Substitution, ReadBase, InsertBase:
		return 1
	case Insertion, SoftClip:
		return int32(len(f.Bases))
	}
	return 0
}

// RefSpan returns the number of reference bases the feature consumes.
func (f ReadFeature) RefSpan() int32 {
	switch f.Code {
	case Substitution, ReadBase:
		return 1
	case Deletion, RefSkip:
		return f.Length
	}
	return 0
}

// CheckFeatures verifies that features lie within a read of readLength bases
// in position order. Features other than BaseQualityScore may not start
// inside the bases of an earlier feature; a BaseQualityScore annotates a base
// and only needs to follow the previous feature's position. Features
// consuming no read bases may sit one past the last base.
func CheckFeatures(features []ReadFeature, readLength int32) error {
	next, last := int32(1), int32(1)
	for i, f := range features {
		if !f.Code.Valid() {
			return fmt.Errorf("%w: unknown read feature %q", cramerr.ErrFeatureOrder, byte(f.Code))
		}
		span := f.ReadSpan()
		if f.Position < 1 || f.Position > readLength+1 || span > 0 && f.Position+span-1 > readLength ||
			f.Code == BaseQualityScore && f.Position > readLength {
			return fmt.Errorf("%w: %v in read of %d bases", cramerr.ErrFeatureBounds, f, readLength)
		}
		if f.Position < last || f.Code != BaseQualityScore && f.Position < next {
			return fmt.Errorf("%w: feature %d %v", cramerr.ErrFeatureOrder, i, f)
		}
		last = f.Position
		if f.Code != BaseQualityScore {
			next = f.Position + span
		}
	}
	return nil
}
