package transcode

import (
	"fmt"
	"math"

	"github.com/scttfrdmn/cram-go/pkg/codec"
	"github.com/scttfrdmn/cram-go/pkg/encoding"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// maxHuffmanSymbols bounds the alphabet offered to the Huffman candidate.
const maxHuffmanSymbols = 256

// BuildCompressionHeader derives the compression header shared by the given
// slices of one container. It assigns substitution codes and tag lines to
// the records, then picks for every data series the encoding that stores
// the collected values in the fewest bits.
func (t *Transcoder) BuildCompressionHeader(slices [][]*structure.Record) (*structure.CompressionHeader, error) {
	h := structure.NewCompressionHeader()
	h.ReadNamesIncluded = t.cfg.PreserveReadNames
	h.MappedQualityIncluded = false
	h.UnmappedQualityIncluded = false
	h.PlacedUnmappedQualityIncluded = false

	var freq [5][5]int64
	eachRecord(slices, func(r *structure.Record) {
		for _, f := range r.Features {
			if f.Code == structure.Substitution {
				freq[structure.BaseIndex(f.ReferenceBase)][structure.BaseIndex(f.Base)]++
			}
		}
	})
	h.Matrix = structure.NewSubstitutionMatrix(freq)

	var err error
	eachRecord(slices, func(r *structure.Record) {
		for i := range r.Features {
			f := &r.Features[i]
			if f.Code != structure.Substitution {
				continue
			}
			code, ok := h.Matrix.Code(f.ReferenceBase, f.Base)
			if !ok && err == nil {
				err = fmt.Errorf("no substitution code for %c>%c", f.ReferenceBase, f.Base)
			}
			f.SubstitutionCode = code
		}
		keys := make([]structure.TagKey, len(r.Tags))
		for i, tag := range r.Tags {
			keys[i] = tag.Key
		}
		r.TagLine = h.Dictionary.Line(keys)
		if r.CompressionFlags&structure.QualityAsArray != 0 {
			switch {
			case r.IsMapped():
				h.MappedQualityIncluded = true
			case r.IsPlaced():
				h.PlacedUnmappedQualityIncluded = true
			default:
				h.UnmappedQualityIncluded = true
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if len(h.Dictionary) == 0 {
		h.Dictionary.Line(nil)
	}

	stats := newSeriesStats()
	for _, recs := range slices {
		id, start, _ := SliceBounds(recs)
		c := newCollector(h, stats, id == structure.MultipleReferences, start)
		for i, r := range recs {
			if err := c.record(r); err != nil {
				return nil, fmt.Errorf("failed to collect record %d: %w", i, err)
			}
		}
	}

	for key, values := range stats.ints {
		p, err := chooseInteger(structure.ContentID(key), values)
		if err != nil {
			return nil, fmt.Errorf("failed to choose encoding for %s: %w", key, err)
		}
		h.Series[key] = p
	}
	for key, values := range stats.bytes {
		switch key {
		case structure.FC, structure.BS:
			h.Series[key] = huffmanParams(values)
		default:
			h.Series[key] = encoding.ExternalParams(structure.ContentID(key))
		}
	}
	for key, seen := range stats.arrays {
		stop := byte(0)
		if key == structure.RN {
			stop = '\t'
		}
		id := structure.ContentID(key)
		if seen.Test(uint(stop)) {
			h.Series[key] = encoding.ByteArrayLenParams(encoding.ExternalParams(id), encoding.ExternalParams(id))
		} else {
			h.Series[key] = encoding.ByteArrayStopParams(stop, id)
		}
	}
	for _, k := range h.Dictionary.Keys() {
		h.Tags[k] = encoding.ByteArrayLenParams(encoding.ExternalParams(int32(k)), encoding.ExternalParams(int32(k)))
	}
	return h, nil
}

func eachRecord(slices [][]*structure.Record, fn func(*structure.Record)) {
	for _, recs := range slices {
		for _, r := range recs {
			fn(r)
		}
	}
}

func huffmanParams[T int32 | byte](values map[T]int64) encoding.Params {
	freq := make(map[int64]int64, len(values))
	for v, n := range values {
		freq[int64(v)] = n
	}
	vs, ls := codec.HuffmanLengths(freq)
	return encoding.HuffmanParams(vs, ls)
}

// chooseInteger returns the cheapest encoding for the counted values among
// Huffman, the universal codes and External.
func chooseInteger(id int32, values map[int32]int64) (encoding.Params, error) {
	lo, hi := int64(math.MaxInt32), int64(math.MinInt32)
	var total, sum int64
	for v, n := range values {
		lo = min(lo, int64(v))
		hi = max(hi, int64(v))
		total += n
		sum += int64(v) * n
	}

	candidates := []encoding.Params{}
	if len(values) <= maxHuffmanSymbols {
		candidates = append(candidates, huffmanParams(values))
	}
	if offset := -lo; offset <= math.MaxInt32 && offset >= math.MinInt32 {
		off := int32(offset)
		candidates = append(candidates, encoding.BetaParams(off, codec.BetaWidth(hi-lo)))
		for k := int32(0); k <= 4; k++ {
			candidates = append(candidates, encoding.SubExpParams(off, k))
		}
		for k := int32(0); k <= 8; k++ {
			candidates = append(candidates, encoding.GolombRiceParams(off, k))
		}
		if m := int32(0.69*float64(sum-lo*total)/float64(total)) + 1; m > 1 {
			candidates = append(candidates, encoding.GolombParams(off, m))
		}
		if offset+1 <= math.MaxInt32 {
			candidates = append(candidates, encoding.GammaParams(off+1))
		}
	}
	candidates = append(candidates, encoding.ExternalParams(id))

	best, bestBits := encoding.NullParams(), int64(-1)
	for _, p := range candidates {
		c, err := encoding.BuildInteger[int32](p, nil)
		if err != nil {
			continue
		}
		bits := cost(c, values)
		if bits >= 0 && (bestBits < 0 || bits < bestBits) {
			best, bestBits = p, bits
		}
	}
	if bestBits < 0 {
		return encoding.Params{}, fmt.Errorf("no encoding fits %d values in [%d,%d]", len(values), lo, hi)
	}
	return best, nil
}

// cost returns the bits c needs for the counted values, or -1 when a value
// cannot be encoded.
func cost(c codec.Codec[int32], values map[int32]int64) int64 {
	var bits int64
	for v, n := range values {
		b := c.BitsFor(v)
		if b < 0 {
			return -1
		}
		bits += b * n
	}
	return bits
}
