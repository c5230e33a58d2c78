package structure

import (
	"errors"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/encoding"
)

func TestTagKey(t *testing.T) {
	k := NewTagKey([2]byte{'N', 'M'}, 'i')
	require.Equal(t, TagKey('N'<<16|'M'<<8|'i'), k)
	require.Equal(t, [2]byte{'N', 'M'}, k.Tag())
	require.Equal(t, byte('i'), k.Type())
	require.Equal(t, "NM:i", k.String())
}

func TestContentIDs(t *testing.T) {
	require.Equal(t, int32(1), ContentID(BF))
	require.Equal(t, int32(26), ContentID(QS))
	require.Equal(t, int32(0), ContentID("XX"))
	require.Equal(t, "BA", ContentName(ContentID(BA)))
	require.Equal(t, "NM:i", ContentName(int32(NewTagKey([2]byte{'N', 'M'}, 'i'))))
	require.Equal(t, "#99", ContentName(99))
}

func TestSubstitutionMatrixDefault(t *testing.T) {
	m := DefaultSubstitutionMatrix()
	// A row: C G T N get codes 0 1 2 3.
	require.Equal(t, byte(0x1b), m[0])
	for _, ref := range Bases {
		seen := map[byte]bool{}
		for _, read := range Bases {
			code, ok := m.Code(ref, read)
			if read == ref {
				require.False(t, ok)
				continue
			}
			require.True(t, ok)
			require.False(t, seen[code], "duplicate code for %c", ref)
			seen[code] = true
			require.Equal(t, read, m.Base(ref, code))
		}
	}
}

func TestSubstitutionMatrixFrequencies(t *testing.T) {
	var freq [5][5]int64
	freq[BaseIndex('T')][BaseIndex('C')] = 100
	freq[BaseIndex('T')][BaseIndex('A')] = 50
	m := NewSubstitutionMatrix(freq)

	code, ok := m.Code('T', 'C')
	require.True(t, ok)
	require.Equal(t, byte(0), code)
	code, ok = m.Code('T', 'A')
	require.True(t, ok)
	require.Equal(t, byte(1), code)
	require.Equal(t, byte('C'), m.Base('t', 0))

	_, ok = m.Code('A', 'R')
	require.False(t, ok)
}

func TestTagDictionary(t *testing.T) {
	var d TagDictionary
	nm := NewTagKey([2]byte{'N', 'M'}, 'i')
	rg := NewTagKey([2]byte{'R', 'G'}, 'Z')
	require.Equal(t, int32(0), d.Line(nil))
	require.Equal(t, int32(1), d.Line([]TagKey{nm, rg}))
	require.Equal(t, int32(1), d.Line([]TagKey{nm, rg}))
	require.Equal(t, int32(2), d.Line([]TagKey{rg}))
	require.Equal(t, []TagKey{nm, rg}, d.Keys())

	parsed, err := parseTagDictionary(d.appendTo(nil))
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	require.Empty(t, parsed[0])
	require.Equal(t, []TagKey{nm, rg}, parsed[1])

	_, err = parseTagDictionary([]byte{'N', 'M'})
	require.True(t, errors.Is(err, cramerr.ErrMalformedHeader))
}

func TestCompressionHeaderRoundTrip(t *testing.T) {
	h := NewCompressionHeader()
	h.ReadNamesIncluded = false
	h.UnmappedQualityIncluded = false
	var freq [5][5]int64
	freq[0][3] = 9
	h.Matrix = NewSubstitutionMatrix(freq)
	nm := NewTagKey([2]byte{'N', 'M'}, 'c')
	h.Dictionary.Line([]TagKey{nm})
	h.Series[BF] = encoding.HuffmanParams([]int32{0, 16}, []int32{1, 1})
	h.Series[RN] = encoding.ByteArrayStopParams('\t', 11)
	h.Series[QS] = encoding.ExternalParams(12)
	h.Tags[nm] = encoding.ByteArrayLenParams(encoding.ExternalParams(int32(nm)), encoding.ExternalParams(int32(nm)))

	data, err := h.MarshalBinary()
	require.NoError(t, err)

	var got CompressionHeader
	require.NoError(t, got.UnmarshalBinary(data))
	require.False(t, got.ReadNamesIncluded)
	require.True(t, got.APDelta)
	require.False(t, got.UnmappedQualityIncluded)
	require.True(t, got.MappedQualityIncluded)
	require.Equal(t, h.Matrix, got.Matrix)
	require.Equal(t, h.Dictionary, got.Dictionary)
	require.Len(t, got.Series, 3)
	for k, p := range h.Series {
		require.True(t, p.Equal(got.Series[k]), "%s", k)
	}
	require.True(t, h.Tags[nm].Equal(got.Tags[nm]))
	require.Equal(t, []int32{11, 12, int32(nm)}, got.ContentIDs())
	require.Equal(t, encoding.Null, got.Encoding(MQ).ID)
}

func TestCompressionHeaderEmpty(t *testing.T) {
	var h CompressionHeader
	require.NoError(t, h.UnmarshalBinary([]byte{1, 0, 1, 0, 1, 0}))
	require.Empty(t, h.Series)
	require.Empty(t, h.Tags)
}

func TestCompressionHeaderErrors(t *testing.T) {
	var h CompressionHeader
	err := h.UnmarshalBinary([]byte{4, 1, 'Z', 'Z', 1})
	require.True(t, errors.Is(err, cramerr.ErrMalformedHeader))

	err = h.UnmarshalBinary([]byte{9, 1})
	require.True(t, errors.Is(err, cramerr.ErrTruncated))

	// data series map with an unknown key
	err = h.UnmarshalBinary([]byte{1, 0, 5, 1, 'Q', 'Q', 0, 0})
	require.True(t, errors.Is(err, cramerr.ErrMalformedHeader))
}

func TestCheckFeatures(t *testing.T) {
	ok := [][]ReadFeature{
		nil,
		{{Code: Substitution, Position: 4}},
		{{Code: HardClip, Position: 1, Length: 3}, {Code: SoftClip, Position: 1, Bases: []byte("AC")}},
		{{Code: Deletion, Position: 3, Length: 2}, {Code: Substitution, Position: 3}},
		{{Code: Insertion, Position: 2, Bases: []byte("GG")}, {Code: BaseQualityScore, Position: 3}},
		{{Code: HardClip, Position: 5, Length: 2}},
	}
	for _, fs := range ok {
		require.NoError(t, CheckFeatures(fs, 4), "%v", fs)
	}

	order := [][]ReadFeature{
		{{Code: Substitution, Position: 3}, {Code: Substitution, Position: 2}},
		{{Code: Substitution, Position: 3}, {Code: Deletion, Position: 3, Length: 1}},
		{{Code: Insertion, Position: 1, Bases: []byte("AC")}, {Code: Substitution, Position: 2}},
		{{Code: 'Z', Position: 1}},
	}
	for _, fs := range order {
		require.True(t, errors.Is(CheckFeatures(fs, 4), cramerr.ErrFeatureOrder), "%v", fs)
	}

	bounds := [][]ReadFeature{
		{{Code: Substitution, Position: 0}},
		{{Code: Substitution, Position: 5}},
		{{Code: SoftClip, Position: 3, Bases: []byte("ACG")}},
		{{Code: Deletion, Position: 6, Length: 1}},
	}
	for _, fs := range bounds {
		require.True(t, errors.Is(CheckFeatures(fs, 4), cramerr.ErrFeatureBounds), "%v", fs)
	}
}

func TestRecordSpan(t *testing.T) {
	r := NewRecord()
	r.ReadLength = 10
	r.AlignmentStart = 100
	r.Features = []ReadFeature{
		{Code: SoftClip, Position: 1, Bases: []byte("AA")},
		{Code: Insertion, Position: 5, Bases: []byte("C")},
		{Code: Deletion, Position: 7, Length: 3},
	}
	require.True(t, r.IsMapped())
	require.Equal(t, int64(10), r.AlignmentSpan())
	require.Equal(t, int64(109), r.AlignmentEnd())

	r.Flags = sam.Unmapped
	require.Equal(t, int64(10), r.AlignmentSpan())

	r.SetMateDownstream(3)
	require.True(t, r.HasMateDownstream())
	r.SetDetached()
	require.True(t, r.IsDetached())
	require.False(t, r.HasMateDownstream())
	require.Equal(t, int32(-1), r.RecordsToNextFragment)
}

func TestEOFHeader(t *testing.T) {
	h := ContainerHeader{SequenceID: Unmapped, AlignmentStart: EOFAlignmentStart}
	require.True(t, h.IsEOF())
	h.RecordCount = 1
	require.False(t, h.IsEOF())
}
