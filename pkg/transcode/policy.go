package transcode

// BaseContext describes one read base to a QualityPolicy.
type BaseContext struct {
	// ReadPos is the 1-based position in the read.
	ReadPos int32
	// RefPos is the 1-based reference position of an aligned base, 0 for
	// inserted, soft clipped or unmapped bases.
	RefPos int64
	// Mismatch reports an aligned base differing from the reference.
	Mismatch bool
	// Coverage is the number of reads of the slice covering RefPos.
	Coverage int32
	// Mismatches is the number of reads of the slice whose base at RefPos
	// differs from the reference.
	Mismatches int32
	// Quality is the base's score.
	Quality byte
}

// QualityPolicy decides per base whether its quality score is kept.
type QualityPolicy interface {
	Preserve(c BaseContext) bool
}

// PreserveAll keeps every score.
type PreserveAll struct{}

// Preserve implements QualityPolicy.
func (PreserveAll) Preserve(BaseContext) bool { return true }

// PreserveNone drops every score.
type PreserveNone struct{}

// Preserve implements QualityPolicy.
func (PreserveNone) Preserve(BaseContext) bool { return false }

// PreserveMismatches keeps the scores of mismatching and unaligned bases.
type PreserveMismatches struct{}

// Preserve implements QualityPolicy.
func (PreserveMismatches) Preserve(c BaseContext) bool {
	return c.Mismatch || c.RefPos == 0
}

// PreserveBelowCoverage keeps scores where fewer than Depth reads cover the
// base, plus those PreserveMismatches keeps.
type PreserveBelowCoverage struct {
	Depth int32
}

// Preserve implements QualityPolicy.
func (p PreserveBelowCoverage) Preserve(c BaseContext) bool {
	return c.Mismatch || c.RefPos == 0 || c.Coverage < p.Depth
}

// PreserveVariantSites keeps the scores of every read at positions where
// at least Reads reads of the slice disagree with the reference, plus those
// of unaligned bases.
type PreserveVariantSites struct {
	Reads int32
}

// Preserve implements QualityPolicy.
func (p PreserveVariantSites) Preserve(c BaseContext) bool {
	return c.RefPos == 0 || c.Mismatches >= p.Reads
}

// lossless reports whether p keeps every score without looking at bases.
func lossless(p QualityPolicy) bool {
	_, ok := p.(PreserveAll)
	return ok
}
