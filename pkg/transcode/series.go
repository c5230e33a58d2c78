package transcode

import (
	"fmt"

	"github.com/biogo/hts/sam"
	"github.com/willf/bitset"

	"github.com/scttfrdmn/cram-go/pkg/codec"
	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/encoding"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// maxFeatures bounds the feature count read for one record.
const maxFeatures = 1 << 20

type mode int

const (
	writing mode = iota
	reading
	collecting
)

// seriesStats collects the values each data series would carry.
type seriesStats struct {
	ints   map[structure.DataSeries]map[int32]int64
	bytes  map[structure.DataSeries]map[byte]int64
	arrays map[structure.DataSeries]*bitset.BitSet // bytes seen in any value
}

func newSeriesStats() *seriesStats {
	return &seriesStats{
		ints:   make(map[structure.DataSeries]map[int32]int64),
		bytes:  make(map[structure.DataSeries]map[byte]int64),
		arrays: make(map[structure.DataSeries]*bitset.BitSet),
	}
}

// recordIO moves record fields through the bound codecs in the fixed series
// order. One record method drives writing, reading and statistics, so the
// field order cannot differ between them.
type recordIO struct {
	mode     mode
	header   *structure.CompressionHeader
	multiRef bool
	// prevStart is the alignment start AP deltas are taken from.
	prevStart int64

	ints   map[structure.DataSeries]codec.Codec[int32]
	bytes  map[structure.DataSeries]codec.Codec[byte]
	arrays map[structure.DataSeries]codec.Codec[[]byte]
	tags   map[structure.TagKey]codec.Codec[[]byte]
	stats  *seriesStats
}

// bindRecordIO resolves every encoding of h against s once, before the
// record loop.
func bindRecordIO(m mode, h *structure.CompressionHeader, s *codec.Streams, multiRef bool, start int64) (*recordIO, error) {
	c := &recordIO{
		mode:      m,
		header:    h,
		multiRef:  multiRef,
		prevStart: start,
		ints:      make(map[structure.DataSeries]codec.Codec[int32]),
		bytes:     make(map[structure.DataSeries]codec.Codec[byte]),
		arrays:    make(map[structure.DataSeries]codec.Codec[[]byte]),
		tags:      make(map[structure.TagKey]codec.Codec[[]byte]),
	}
	for _, st := range structure.SeriesTypes {
		p, ok := h.Series[st.Key]
		if !ok {
			continue
		}
		var err error
		switch st.Type {
		case structure.IntValue:
			c.ints[st.Key], err = encoding.BuildInteger[int32](p, s)
		case structure.ByteValue:
			c.bytes[st.Key], err = encoding.BuildInteger[byte](p, s)
		case structure.ByteArrayValue:
			c.arrays[st.Key], err = encoding.BuildByteArray(p, s)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to bind %s (%v): %w", st.Key, p, err)
		}
	}
	for k, p := range h.Tags {
		cd, err := encoding.BuildByteArray(p, s)
		if err != nil {
			return nil, fmt.Errorf("failed to bind tag %v (%v): %w", k, p, err)
		}
		c.tags[k] = cd
	}
	return c, nil
}

// newCollector returns a recordIO that adds the values of each record to
// stats instead of encoding them.
func newCollector(h *structure.CompressionHeader, stats *seriesStats, multiRef bool, start int64) *recordIO {
	return &recordIO{mode: collecting, header: h, multiRef: multiRef, prevStart: start, stats: stats}
}

func missingSeries(key any) error {
	return fmt.Errorf("%w: no encoding for %v", cramerr.ErrMalformedHeader, key)
}

func (c *recordIO) intValue(key structure.DataSeries, p *int32) error {
	if c.mode == collecting {
		m := c.stats.ints[key]
		if m == nil {
			m = make(map[int32]int64)
			c.stats.ints[key] = m
		}
		m[*p]++
		return nil
	}
	cd, ok := c.ints[key]
	if !ok {
		if c.mode == writing {
			return missingSeries(key)
		}
		cd = codec.NewNull[int32]()
	}
	return transfer(c.mode, cd, p, key)
}

func (c *recordIO) byteValue(key structure.DataSeries, p *byte) error {
	if c.mode == collecting {
		m := c.stats.bytes[key]
		if m == nil {
			m = make(map[byte]int64)
			c.stats.bytes[key] = m
		}
		m[*p]++
		return nil
	}
	cd, ok := c.bytes[key]
	if !ok {
		if c.mode == writing {
			return missingSeries(key)
		}
		cd = codec.NewNull[byte]()
	}
	return transfer(c.mode, cd, p, key)
}

func (c *recordIO) arrayValue(key structure.DataSeries, p *[]byte) error {
	if c.mode == collecting {
		seen := c.stats.arrays[key]
		if seen == nil {
			seen = bitset.New(256)
			c.stats.arrays[key] = seen
		}
		for _, b := range *p {
			seen.Set(uint(b))
		}
		return nil
	}
	cd, ok := c.arrays[key]
	if !ok {
		if c.mode == writing {
			return missingSeries(key)
		}
		cd = codec.NewNull[[]byte]()
	}
	return transfer(c.mode, cd, p, key)
}

func (c *recordIO) tagValue(key structure.TagKey, p *[]byte) error {
	if c.mode == collecting {
		return nil
	}
	cd, ok := c.tags[key]
	if !ok {
		return missingSeries(key)
	}
	return transfer(c.mode, cd, p, key)
}

func transfer[T any](m mode, cd codec.Codec[T], p *T, key any) error {
	if m == writing {
		if _, err := cd.Write(*p); err != nil {
			return fmt.Errorf("failed to write %v: %w", key, err)
		}
		return nil
	}
	v, err := cd.Read()
	if err != nil {
		return fmt.Errorf("failed to read %v: %w", key, err)
	}
	*p = v
	return nil
}

// record moves one record. Fields read earlier decide which later fields
// exist, in the same way for every mode.
func (c *recordIO) record(r *structure.Record) error {
	h := c.header
	flags := int32(r.Flags)
	if err := c.intValue(structure.BF, &flags); err != nil {
		return err
	}
	r.Flags = sam.Flags(flags)
	cf := int32(r.CompressionFlags)
	if err := c.intValue(structure.CF, &cf); err != nil {
		return err
	}
	r.CompressionFlags = structure.CompressionFlags(cf)
	if c.multiRef {
		if err := c.intValue(structure.RI, &r.SequenceID); err != nil {
			return err
		}
	}
	if err := c.intValue(structure.RL, &r.ReadLength); err != nil {
		return err
	}
	if r.ReadLength < 0 {
		return fmt.Errorf("%w: read length %d", cramerr.ErrFeatureBounds, r.ReadLength)
	}
	if err := c.alignmentStart(r); err != nil {
		return err
	}
	if err := c.intValue(structure.RG, &r.ReadGroupID); err != nil {
		return err
	}
	if h.ReadNamesIncluded {
		if err := c.arrayValue(structure.RN, &r.ReadName); err != nil {
			return err
		}
	}

	switch {
	case r.IsDetached():
		if err := c.mate(r); err != nil {
			return err
		}
	case r.HasMateDownstream():
		if err := c.intValue(structure.NF, &r.RecordsToNextFragment); err != nil {
			return err
		}
	}

	if err := c.tagValues(r); err != nil {
		return err
	}

	if r.IsMapped() {
		if err := c.features(r); err != nil {
			return err
		}
		if err := c.intValue(structure.MQ, &r.MappingQuality); err != nil {
			return err
		}
	} else if err := c.run(structure.BA, &r.Bases, r.ReadLength); err != nil {
		return err
	}
	if r.CompressionFlags&structure.QualityAsArray != 0 {
		return c.run(structure.QS, &r.Qualities, r.ReadLength)
	}
	return nil
}

func (c *recordIO) alignmentStart(r *structure.Record) error {
	if !c.header.APDelta {
		v := int32(r.AlignmentStart)
		if err := c.intValue(structure.AP, &v); err != nil {
			return err
		}
		r.AlignmentStart = int64(v)
		return nil
	}
	d := int32(r.AlignmentStart - c.prevStart)
	if err := c.intValue(structure.AP, &d); err != nil {
		return err
	}
	r.AlignmentStart = c.prevStart + int64(d)
	c.prevStart = r.AlignmentStart
	return nil
}

func (c *recordIO) mate(r *structure.Record) error {
	mf := int32(r.MateFlags)
	if err := c.intValue(structure.MF, &mf); err != nil {
		return err
	}
	r.MateFlags = structure.MateFlags(mf)
	if !c.header.ReadNamesIncluded {
		if err := c.arrayValue(structure.RN, &r.ReadName); err != nil {
			return err
		}
	}
	if err := c.intValue(structure.NS, &r.MateSequenceID); err != nil {
		return err
	}
	np := int32(r.MateAlignmentStart)
	if err := c.intValue(structure.NP, &np); err != nil {
		return err
	}
	r.MateAlignmentStart = int64(np)
	return c.intValue(structure.TS, &r.TemplateSize)
}

func (c *recordIO) tagValues(r *structure.Record) error {
	if err := c.intValue(structure.TL, &r.TagLine); err != nil {
		return err
	}
	dict := c.header.Dictionary
	if c.mode == reading && len(dict) == 0 && r.TagLine == 0 {
		return nil
	}
	if r.TagLine < 0 || int(r.TagLine) >= len(dict) {
		return fmt.Errorf("%w: tag line %d of %d", cramerr.ErrMalformedHeader, r.TagLine, len(dict))
	}
	line := dict[r.TagLine]
	if c.mode == reading {
		r.Tags = make([]structure.Tag, len(line))
		for i, k := range line {
			r.Tags[i].Key = k
		}
	} else if len(r.Tags) != len(line) {
		return fmt.Errorf("record has %d tags, tag line %d lists %d", len(r.Tags), r.TagLine, len(line))
	}
	for i, k := range line {
		if r.Tags[i].Key != k {
			return fmt.Errorf("tag %d is %v, tag line %d says %v", i, r.Tags[i].Key, r.TagLine, k)
		}
		if err := c.tagValue(k, &r.Tags[i].Value); err != nil {
			return err
		}
	}
	return nil
}

// run moves n single byte values of one series.
func (c *recordIO) run(key structure.DataSeries, p *[]byte, n int32) error {
	if c.mode == reading {
		*p = make([]byte, n)
	} else if int32(len(*p)) != n {
		return fmt.Errorf("%s holds %d values for a read of %d bases", key, len(*p), n)
	}
	for i := range *p {
		if err := c.byteValue(key, &(*p)[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *recordIO) features(r *structure.Record) error {
	n := int32(len(r.Features))
	if err := c.intValue(structure.FN, &n); err != nil {
		return err
	}
	if c.mode == reading {
		if n < 0 || n > maxFeatures {
			return fmt.Errorf("%w: %d read features", cramerr.ErrFeatureBounds, n)
		}
		r.Features = make([]structure.ReadFeature, n)
	}
	prev := int32(0)
	for i := range r.Features {
		f := &r.Features[i]
		code := byte(f.Code)
		if err := c.byteValue(structure.FC, &code); err != nil {
			return err
		}
		f.Code = structure.FeatureCode(code)
		delta := f.Position - prev
		if err := c.intValue(structure.FP, &delta); err != nil {
			return err
		}
		f.Position = prev + delta
		prev = f.Position

		var err error
		switch f.Code {
		case structure.ReadBase:
			if err = c.byteValue(structure.BA, &f.Base); err == nil {
				err = c.byteValue(structure.QS, &f.Quality)
			}
		case structure.Substitution:
			err = c.byteValue(structure.BS, &f.SubstitutionCode)
		case structure.Insertion:
			err = c.arrayValue(structure.IN, &f.Bases)
		case structure.SoftClip:
			err = c.arrayValue(structure.SC, &f.Bases)
		case structure.HardClip:
			err = c.intValue(structure.HC, &f.Length)
		case structure.Padding:
			err = c.intValue(structure.PD, &f.Length)
		case structure.Deletion:
			err = c.intValue(structure.DL, &f.Length)
		case structure.RefSkip:
			err = c.intValue(structure.RS, &f.Length)
		case structure.InsertBase:
			err = c.byteValue(structure.BA, &f.Base)
		case structure.BaseQualityScore:
			err = c.byteValue(structure.QS, &f.Quality)
		default:
			err = fmt.Errorf("%w: unknown read feature %q", cramerr.ErrFeatureOrder, code)
		}
		if err != nil {
			return err
		}
	}
	if c.mode == reading {
		return structure.CheckFeatures(r.Features, r.ReadLength)
	}
	return nil
}
