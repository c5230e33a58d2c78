package transcode

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/encoding"
	"github.com/scttfrdmn/cram-go/pkg/reference"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// Example alignments from SAMv1 section 1.1, reference unpadded.
const exampleRef = "AGCATGTTAGATAAGATAGCTGTGCTAGTAGGCAGTCAGCGCCAT"

const exampleSAM = `@HD	VN:1.6	SO:coordinate
@SQ	SN:ref	LN:45
@RG	ID:rg1	SM:sample
r001	99	ref	7	30	8M2I4M1D3M	=	37	39	TTAGATAAAGGATACTG	*	RG:Z:rg1
r002	0	ref	9	30	3S6M1P1I4M	*	0	0	AAAAGATAAGGATA	*
r003	0	ref	9	30	5S6M	*	0	0	GCCTAAGCTAA	*	SA:Z:ref,29,-,6H5M,17,0;
r004	0	ref	16	30	6M14N5M	*	0	0	ATAGCTTCAGC	*
r003	2064	ref	29	17	6H5M	*	0	0	TAGGC	*	SA:Z:ref,9,+,5S6M,30,1;
r001	147	ref	37	30	9M	=	7	-39	CAGCGGCAT	*	NM:i:1
`

func readSAM(t *testing.T, text string) (*sam.Header, []*sam.Record) {
	t.Helper()
	r, err := sam.NewReader(strings.NewReader(text))
	require.NoError(t, err)
	var recs []*sam.Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return r.Header(), recs
}

func samLines(t *testing.T, recs []*sam.Record) []string {
	t.Helper()
	out := make([]string, len(recs))
	for i, r := range recs {
		b, err := r.MarshalText()
		require.NoError(t, err)
		out[i] = string(b)
	}
	return out
}

// roundTrip runs records through every encoding stage, including the
// serialized compression header.
func roundTrip(t *testing.T, tc *Transcoder, recs []*sam.Record, w *reference.Window) ([]*structure.Record, []*sam.Record) {
	t.Helper()
	crs, err := tc.ToCramRecords(recs, w)
	require.NoError(t, err)
	h, err := tc.BuildCompressionHeader([][]*structure.Record{crs})
	require.NoError(t, err)
	s, err := tc.EncodeSlice(h, crs, 0, w)
	require.NoError(t, err)

	data, err := h.MarshalBinary()
	require.NoError(t, err)
	decoded := structure.NewCompressionHeader()
	require.NoError(t, decoded.UnmarshalBinary(data))

	got, err := tc.DecodeSlice(decoded, s)
	require.NoError(t, err)
	out, err := tc.ToAlignmentRecords(got, w, decoded.Matrix)
	require.NoError(t, err)
	return crs, out
}

func exampleWindow() *reference.Window {
	return reference.NewWindow(0, 1, []byte(exampleRef))
}

func TestSAMRoundTrip(t *testing.T) {
	header, recs := readSAM(t, exampleSAM)
	tc := New(Config{Header: header, PreserveReadNames: true})
	crs, out := roundTrip(t, tc, recs, exampleWindow())
	require.Equal(t, samLines(t, recs), samLines(t, out))

	// r001 pair is attached five records apart.
	require.True(t, crs[0].HasMateDownstream())
	require.Equal(t, int32(5), crs[0].RecordsToNextFragment)
	require.Equal(t, 5, crs[0].Next)
	require.Equal(t, 0, crs[5].Previous)
	require.Equal(t, 39, out[0].TempLen)
	require.Equal(t, -39, out[5].TempLen)

	require.Equal(t, int32(0), crs[0].ReadGroupID)
	require.Equal(t, int32(-1), crs[1].ReadGroupID)
}

func TestGeneratedNames(t *testing.T) {
	header, recs := readSAM(t, exampleSAM)
	tc := New(Config{Header: header})
	_, out := roundTrip(t, tc, recs, exampleWindow())
	require.Equal(t, "cram.1", out[0].Name)
	require.Equal(t, "cram.1", out[5].Name)
	require.Equal(t, "cram.2", out[1].Name)
	require.Equal(t, "cram.5", out[4].Name)
	require.Equal(t, 36, out[0].MatePos)
}

const smallSAM = `@SQ	SN:chr	LN:8
`

func smallWindow() *reference.Window {
	return reference.NewWindow(0, 1, []byte("ACGTACGT"))
}

func TestPureMatch(t *testing.T) {
	header, recs := readSAM(t, smallSAM+"q1	0	chr	1	60	4M	*	0	0	ACGT	*\n")
	tc := New(Config{Header: header, PreserveReadNames: true})
	crs, out := roundTrip(t, tc, recs, smallWindow())
	require.Empty(t, crs[0].Features)
	require.Equal(t, int32(4), crs[0].ReadLength)
	require.Equal(t, "ACGT", string(out[0].Seq.Expand()))
	require.Equal(t, "4M", out[0].Cigar.String())
}

func TestSubstitution(t *testing.T) {
	header, recs := readSAM(t, smallSAM+"q1	0	chr	1	60	4M	*	0	0	ACGA	*\n")
	tc := New(Config{Header: header, PreserveReadNames: true})
	crs, out := roundTrip(t, tc, recs, smallWindow())
	require.Len(t, crs[0].Features, 1)
	f := crs[0].Features[0]
	require.Equal(t, structure.Substitution, f.Code)
	require.Equal(t, int32(4), f.Position)
	require.Equal(t, byte('T'), f.ReferenceBase)
	require.Equal(t, byte('A'), f.Base)
	require.Equal(t, "ACGA", string(out[0].Seq.Expand()))
	require.Equal(t, "4M", out[0].Cigar.String())
}

func TestInsertion(t *testing.T) {
	header, recs := readSAM(t, smallSAM+"q1	0	chr	1	60	2M2I2M	*	0	0	ACTTGT	*\n")
	tc := New(Config{Header: header, PreserveReadNames: true})
	crs, out := roundTrip(t, tc, recs, smallWindow())
	require.Len(t, crs[0].Features, 1)
	f := crs[0].Features[0]
	require.Equal(t, structure.Insertion, f.Code)
	require.Equal(t, int32(3), f.Position)
	require.Equal(t, "TT", string(f.Bases))
	require.Equal(t, "ACTTGT", string(out[0].Seq.Expand()))
	require.Equal(t, "2M2I2M", out[0].Cigar.String())
}

func TestAmbiguousBase(t *testing.T) {
	header, recs := readSAM(t, smallSAM+"q1	0	chr	1	60	4M	*	0	0	ACRT	IIII\n")
	tc := New(Config{Header: header, PreserveReadNames: true})
	crs, out := roundTrip(t, tc, recs, smallWindow())
	require.Equal(t, structure.ReadBase, crs[0].Features[0].Code)
	require.Equal(t, byte('R'), crs[0].Features[0].Base)
	require.Equal(t, "ACRT", string(out[0].Seq.Expand()))
	require.Equal(t, recs[0].Qual, out[0].Qual)
}

func TestEqualsAndMismatchOps(t *testing.T) {
	header, recs := readSAM(t, smallSAM+"q1	0	chr	1	60	2=1X1=	*	0	0	ACAT	*\n")
	tc := New(Config{Header: header, PreserveReadNames: true})
	_, out := roundTrip(t, tc, recs, smallWindow())
	require.Equal(t, "ACAT", string(out[0].Seq.Expand()))
	require.Equal(t, "4M", out[0].Cigar.String())
}

func TestUnmappedAndNoSequence(t *testing.T) {
	text := smallSAM +
		"u1	4	*	0	0	*	*	0	0	GATTACA	ABCDEFG\n" +
		"u2	4	*	0	0	*	*	0	0	*	*\n"
	header, recs := readSAM(t, text)
	tc := New(Config{Header: header, PreserveReadNames: true})
	crs, out := roundTrip(t, tc, recs, nil)
	require.Equal(t, structure.QualityAsArray, crs[0].CompressionFlags)
	require.Equal(t, structure.NoSequence, crs[1].CompressionFlags)
	require.Equal(t, samLines(t, recs), samLines(t, out))
}

func TestMappedNoSequence(t *testing.T) {
	header, recs := readSAM(t, smallSAM+"q1	0	chr	2	60	1S2M1D1M	*	0	0	*	*\n")
	tc := New(Config{Header: header, PreserveReadNames: true})
	_, out := roundTrip(t, tc, recs, nil)
	require.Equal(t, "1S2M1D1M", out[0].Cigar.String())
	require.Equal(t, 0, out[0].Seq.Length)
}

func TestQualityPolicies(t *testing.T) {
	line := "q1	0	chr	1	60	4M	*	0	0	ACTT	ABCD\n"
	for _, test := range []struct {
		name   string
		policy QualityPolicy
		want   []byte
	}{
		{"all", PreserveAll{}, []byte{32, 33, 34, 35}},
		{"none", PreserveNone{}, []byte{0xff, 0xff, 0xff, 0xff}},
		{"mismatches", PreserveMismatches{}, []byte{30, 30, 34, 30}},
		{"coverage", PreserveBelowCoverage{Depth: 2}, []byte{32, 33, 34, 35}},
	} {
		t.Run(test.name, func(t *testing.T) {
			header, recs := readSAM(t, smallSAM+line)
			tc := New(Config{Header: header, PreserveReadNames: true, Policy: test.policy})
			_, out := roundTrip(t, tc, recs, smallWindow())
			require.Equal(t, test.want, out[0].Qual)
			require.Equal(t, "ACTT", string(out[0].Seq.Expand()))
		})
	}
}

func TestPreserveVariantSites(t *testing.T) {
	text := smallSAM +
		"q1	0	chr	1	60	4M	*	0	0	ACTT	ABCD\n" +
		"q2	0	chr	1	60	4M	*	0	0	ACGT	EFGH\n"
	for _, test := range []struct {
		reads int32
		want  [][]byte
	}{
		{1, [][]byte{{30, 30, 34, 30}, {30, 30, 38, 30}}},
		{2, [][]byte{{0xff, 0xff, 0xff, 0xff}, {0xff, 0xff, 0xff, 0xff}}},
	} {
		header, recs := readSAM(t, text)
		tc := New(Config{Header: header, PreserveReadNames: true, Policy: PreserveVariantSites{Reads: test.reads}})
		_, out := roundTrip(t, tc, recs, smallWindow())
		require.Len(t, out, 2)
		for i := range out {
			require.Equal(t, test.want[i], out[i].Qual, "reads %d record %d", test.reads, i)
		}
		require.Equal(t, "ACTT", string(out[0].Seq.Expand()))
		require.Equal(t, "ACGT", string(out[1].Seq.Expand()))
	}
}

func TestDetachedMate(t *testing.T) {
	// TLEN disagrees with the mate, so both records keep their own fields.
	text := smallSAM +
		"p1	99	chr	1	60	2M	=	5	10	AC	*\n" +
		"p1	147	chr	5	60	2M	=	1	-10	AC	*\n" +
		"p2	65	chr	3	60	2M	chr	7	0	GT	*\n"
	header, recs := readSAM(t, text)
	tc := New(Config{Header: header, PreserveReadNames: true})
	crs, out := roundTrip(t, tc, recs, smallWindow())
	for _, r := range crs {
		require.True(t, r.IsDetached())
	}
	require.Equal(t, samLines(t, recs), samLines(t, out))
}

func TestLinkMatesAttachesMatchingPair(t *testing.T) {
	text := smallSAM +
		"p1	99	chr	1	60	2M	=	5	6	AC	*\n" +
		"s1	0	chr	3	60	2M	*	0	0	GT	*\n" +
		"p1	147	chr	5	60	2M	=	1	-6	AC	*\n"
	header, recs := readSAM(t, text)
	tc := New(Config{Header: header})
	crs, err := tc.ToCramRecords(recs, smallWindow())
	require.NoError(t, err)
	require.True(t, crs[0].HasMateDownstream())
	require.Equal(t, int32(2), crs[0].RecordsToNextFragment)
	require.False(t, crs[1].IsDetached())
	require.False(t, crs[1].HasMateDownstream())
	require.False(t, crs[2].IsDetached())
}

func TestRestoreMates(t *testing.T) {
	recs := make([]*structure.Record, 7)
	for i := range recs {
		recs[i] = structure.NewRecord()
	}
	recs[1].SetMateDownstream(5)
	require.NoError(t, RestoreMates(recs))
	require.Equal(t, 6, recs[1].Next)
	require.Equal(t, 1, recs[6].Previous)

	recs[2].SetMateDownstream(9)
	err := RestoreMates(recs)
	require.True(t, errors.Is(err, cramerr.ErrRecordCount))
}

func TestRestoreTemplates(t *testing.T) {
	recs := make([]*structure.Record, 4)
	for i, name := range []string{"a", "b", "a", "a"} {
		recs[i] = structure.NewRecord()
		recs[i].ReadName = []byte(name)
		recs[i].SetDetached()
	}
	RestoreTemplates(recs)
	require.Equal(t, 2, recs[0].Next)
	require.Equal(t, 0, recs[2].Previous)
	require.Equal(t, structure.NoLink, recs[1].Next)
	require.Equal(t, structure.NoLink, recs[3].Previous)
}

func TestDecodeOutsideWindow(t *testing.T) {
	header, _ := readSAM(t, smallSAM)
	tc := New(Config{Header: header})
	for _, test := range []struct {
		name    string
		start   int64
		feature structure.ReadFeature
	}{
		{"substitution", 6, structure.ReadFeature{Code: structure.Substitution, Position: 4}},
		{"deletion", 5, structure.ReadFeature{Code: structure.Deletion, Position: 2, Length: 10}},
		{"ref skip", 5, structure.ReadFeature{Code: structure.RefSkip, Position: 2, Length: 10}},
	} {
		t.Run(test.name, func(t *testing.T) {
			r := structure.NewRecord()
			r.SequenceID = 0
			r.AlignmentStart = test.start
			r.ReadLength = 4
			r.Features = []structure.ReadFeature{test.feature}
			_, err := tc.ToAlignmentRecords([]*structure.Record{r}, smallWindow(), structure.DefaultSubstitutionMatrix())
			require.True(t, errors.Is(err, cramerr.ErrOutOfWindow), "%v", err)
		})
	}
}

func TestDecodeFeatureOrder(t *testing.T) {
	r := structure.NewRecord()
	r.SequenceID = 0
	r.AlignmentStart = 1
	r.ReadLength = 4
	r.Features = []structure.ReadFeature{
		{Code: structure.Substitution, Position: 3},
		{Code: structure.Substitution, Position: 2},
	}
	header, _ := readSAM(t, smallSAM)
	tc := New(Config{Header: header})
	_, err := tc.ToAlignmentRecords([]*structure.Record{r}, smallWindow(), structure.DefaultSubstitutionMatrix())
	require.True(t, errors.Is(err, cramerr.ErrFeatureOrder))
}

func TestReadGroupRestored(t *testing.T) {
	header, _ := readSAM(t, exampleSAM)
	tc := New(Config{Header: header})
	r := structure.NewRecord()
	r.Flags = sam.Unmapped
	r.ReadGroupID = 0
	r.ReadName = []byte("x")
	out, err := tc.ToAlignmentRecords([]*structure.Record{r}, nil, structure.DefaultSubstitutionMatrix())
	require.NoError(t, err)
	aux := out[0].AuxFields.Get(sam.NewTag("RG"))
	require.NotNil(t, aux)
	require.Equal(t, "rg1", aux.Value())
}

func TestSliceBounds(t *testing.T) {
	a, b, u := structure.NewRecord(), structure.NewRecord(), structure.NewRecord()
	a.SequenceID, a.AlignmentStart, a.ReadLength = 0, 10, 5
	b.SequenceID, b.AlignmentStart, b.ReadLength = 0, 4, 3
	id, start, span := SliceBounds([]*structure.Record{a, b})
	require.Equal(t, int32(0), id)
	require.Equal(t, int64(4), start)
	require.Equal(t, int64(11), span)

	u.Flags = sam.Unmapped
	id, start, span = SliceBounds([]*structure.Record{a, u})
	require.Equal(t, structure.MultipleReferences, id)
	require.Equal(t, int64(10), start)
	require.Equal(t, int64(5), span)
}

func TestSliceReferenceMD5(t *testing.T) {
	header, recs := readSAM(t, smallSAM+"q1	0	chr	2	60	3M	*	0	0	CGT	*\n")
	tc := New(Config{Header: header})
	crs, err := tc.ToCramRecords(recs, smallWindow())
	require.NoError(t, err)
	h, err := tc.BuildCompressionHeader([][]*structure.Record{crs})
	require.NoError(t, err)
	s, err := tc.EncodeSlice(h, crs, 7, smallWindow())
	require.NoError(t, err)
	want, err := smallWindow().MD5(2, 4)
	require.NoError(t, err)
	require.Equal(t, want, s.Header.ReferenceMD5)
	require.Equal(t, int64(7), s.Header.RecordCounter)
	require.Equal(t, int32(2), s.Header.AlignmentStart)
	require.Equal(t, int32(3), s.Header.AlignmentSpan)
}

func TestEncodeSliceRejectsBadFeatures(t *testing.T) {
	r := structure.NewRecord()
	r.SequenceID, r.AlignmentStart, r.ReadLength = 0, 1, 2
	r.Features = []structure.ReadFeature{{Code: structure.Insertion, Position: 2, Bases: []byte("AC")}}
	tc := New(Config{})
	_, err := tc.EncodeSlice(structure.NewCompressionHeader(), []*structure.Record{r}, 0, nil)
	require.True(t, errors.Is(err, cramerr.ErrFeatureBounds))
}

func TestChooseInteger(t *testing.T) {
	p, err := chooseInteger(3, map[int32]int64{42: 1000})
	require.NoError(t, err)
	require.Equal(t, encoding.Huffman, p.ID)

	wide := map[int32]int64{}
	for i := int32(0); i < 1000; i++ {
		wide[i*1000] = 1
	}
	p, err = chooseInteger(3, wide)
	require.NoError(t, err)
	require.NotEqual(t, encoding.Huffman, p.ID)
}

func TestBuildCompressionHeader(t *testing.T) {
	header, recs := readSAM(t, exampleSAM)
	tc := New(Config{Header: header})
	crs, err := tc.ToCramRecords(recs, exampleWindow())
	require.NoError(t, err)
	h, err := tc.BuildCompressionHeader([][]*structure.Record{crs})
	require.NoError(t, err)

	require.False(t, h.ReadNamesIncluded)
	require.False(t, h.MappedQualityIncluded)
	require.Equal(t, encoding.Huffman, h.Series[structure.FC].ID)
	require.Equal(t, encoding.ByteArrayStop, h.Series[structure.IN].ID)
	require.Equal(t, encoding.NullParams(), h.Encoding(structure.QS))
	require.Len(t, h.Dictionary, 4) // RG, none, SA, NM
	require.Equal(t, int32(2), crs[2].TagLine)
	require.Equal(t, crs[2].TagLine, crs[4].TagLine)

	// the only substitutions are C>G and A>C
	code, ok := h.Matrix.Code('C', 'G')
	require.True(t, ok)
	require.Equal(t, byte(0), code)
	for _, r := range crs {
		for _, f := range r.Features {
			if f.Code == structure.Substitution {
				require.Equal(t, f.Base, h.Matrix.Base(f.ReferenceBase, f.SubstitutionCode))
			}
		}
	}
}
