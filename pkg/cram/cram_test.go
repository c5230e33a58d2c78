package cram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/reference"
	"github.com/scttfrdmn/cram-go/pkg/structure"
	"github.com/scttfrdmn/cram-go/pkg/transcode"
)

const testRef = "AGCATGTTAGATAAGATAGCTGTGCTAGTAGGCAGTCAGCGCCAT"

const testSAM = `@HD	VN:1.6	SO:coordinate
@SQ	SN:ref	LN:45
@RG	ID:rg1	SM:sample
r001	99	ref	7	30	8M2I4M1D3M	=	37	39	TTAGATAAAGGATACTG	*	RG:Z:rg1
r002	0	ref	9	30	3S6M1P1I4M	*	0	0	AAAAGATAAGGATA	*
r003	0	ref	9	30	5S6M	*	0	0	GCCTAAGCTAA	*	SA:Z:ref,29,-,6H5M,17,0;
r004	0	ref	16	30	6M14N5M	*	0	0	ATAGCTTCAGC	*
r003	2064	ref	29	17	6H5M	*	0	0	TAGGC	*	SA:Z:ref,9,+,5S6M,30,1;
r001	147	ref	37	30	9M	=	7	-39	CAGCGGCAT	*	NM:i:1
u001	4	*	0	0	*	*	0	0	ACGTN	IIII#
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

func testSource(bases string) reference.Source {
	return reference.NewMemorySource(reference.Sequence{Name: "ref", Bases: []byte(bases)})
}

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Workers = 3
	opts.RecordsPerSlice = 2
	opts.SlicesPerContainer = 2
	return opts
}

func writeCRAM(t *testing.T, h *sam.Header, recs []*sam.Record, src reference.Source, opts *Options) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, h, src, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	require.Equal(t, int64(len(recs)), w.Records())
	require.Equal(t, int64(buf.Len()), w.Written())
	return buf.Bytes()
}

func readCRAM(t *testing.T, data []byte, src reference.Source, opts *Options) (*Reader, []*sam.Record, error) {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), src, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	var recs []*sam.Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return r, recs, nil
		}
		if err != nil {
			return r, recs, err
		}
		recs = append(recs, rec)
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	for _, method := range []structure.Method{structure.Raw, structure.Gzip, structure.Zstd} {
		t.Run(method.String(), func(t *testing.T) {
			h, recs := readSAM(t, testSAM)
			opts := testOptions()
			opts.Method = method
			data := writeCRAM(t, h, recs, testSource(testRef), opts)

			r, out, err := readCRAM(t, data, testSource(testRef), testOptions())
			require.NoError(t, err)
			require.NoError(t, r.Close())
			require.Equal(t, samLines(t, recs), samLines(t, out))
			require.Len(t, r.Header().Refs(), 1)
			require.Equal(t, "rg1", r.Header().RGs()[0].Name())
			require.NotEqual(t, [20]byte{}, r.FileID())
		})
	}
}

func TestWriterContainersFollowReference(t *testing.T) {
	h, recs := readSAM(t, testSAM)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, h, testSource(testRef), testOptions(), nil)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	// six mapped records fill one container and start a second; the
	// unmapped record gets its own
	require.Equal(t, 3, w.Containers())
	require.Error(t, w.Write(recs[0]))
}

func TestGeneratedNamesAcrossContainers(t *testing.T) {
	h, recs := readSAM(t, testSAM)
	opts := testOptions()
	opts.PreserveReadNames = false
	data := writeCRAM(t, h, recs, testSource(testRef), opts)

	_, out, err := readCRAM(t, data, testSource(testRef), testOptions())
	require.NoError(t, err)
	require.Len(t, out, len(recs))
	for i, r := range out {
		require.Equal(t, transcode.DefaultNamePrefix+"."+strconv.Itoa(i+1), r.Name)
	}
	// the r001 pair is split across slices, so its mate fields are stored
	require.Equal(t, 36, out[0].MatePos)
	require.Equal(t, 6, out[5].MatePos)
}

func TestWriterNeedsReference(t *testing.T) {
	h, recs := readSAM(t, testSAM)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, h, nil, testOptions(), nil)
	require.NoError(t, err)
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			require.ErrorIs(t, err, cramerr.ErrNoReference)
			return
		}
	}
	require.ErrorIs(t, w.Close(), cramerr.ErrNoReference)
}

func TestUnmappedWithoutReference(t *testing.T) {
	h, recs := readSAM(t, testSAM)
	unmapped := recs[len(recs)-1:]
	data := writeCRAM(t, h, unmapped, nil, testOptions())

	_, out, err := readCRAM(t, data, nil, testOptions())
	require.NoError(t, err)
	require.Equal(t, samLines(t, unmapped), samLines(t, out))
}

func TestReferenceMismatch(t *testing.T) {
	h, recs := readSAM(t, testSAM)
	data := writeCRAM(t, h, recs, testSource(testRef), testOptions())
	// one change inside each mapped container
	wrong := []byte(testRef)
	wrong[20], wrong[39] = 'A', 'T'

	_, _, err := readCRAM(t, data, testSource(string(wrong)), testOptions())
	require.ErrorIs(t, err, cramerr.ErrReferenceMD5)
	var se *cramerr.SliceError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 0, se.Container)

	opts := testOptions()
	opts.SkipCorruptContainers = true
	r, out, err := readCRAM(t, data, testSource(string(wrong)), opts)
	require.NoError(t, err)
	require.Equal(t, 2, r.Skipped())
	require.Len(t, out, 1)
	require.Equal(t, "u001", out[0].Name)

	opts = testOptions()
	opts.VerifyReference = false
	_, out, err = readCRAM(t, data, testSource(testRef), opts)
	require.NoError(t, err)
	require.Len(t, out, len(recs))
}

func TestReaderRejectsMultiReferenceSlice(t *testing.T) {
	r := &Reader{opts: DefaultOptions()}
	s := &structure.Slice{Header: structure.SliceHeader{SequenceID: structure.MultipleReferences, RecordCount: 3}}
	_, err := r.decodeSlice(structure.NewCompressionHeader(), s)
	require.ErrorIs(t, err, cramerr.ErrMultipleReferences)
	require.False(t, cramerr.IsRecoverable(&cramerr.SliceError{Err: err}))
}

func TestReaderRejectsBadMagic(t *testing.T) {
	_, err := NewReader(strings.NewReader("BAM\x01"+strings.Repeat("\x00", 22)), nil, nil, nil)
	require.ErrorIs(t, err, cramerr.ErrBadMagic)
}

func TestReaderTruncated(t *testing.T) {
	h, recs := readSAM(t, testSAM)
	data := writeCRAM(t, h, recs, testSource(testRef), testOptions())

	opts := testOptions()
	opts.SkipCorruptContainers = true
	_, _, err := readCRAM(t, data[:len(data)-60], testSource(testRef), opts)
	require.ErrorIs(t, err, cramerr.ErrTruncated)
}

func TestQualityPolicyOnWrite(t *testing.T) {
	const text = `@SQ	SN:ref	LN:45
q1	0	ref	1	30	8M	*	0	0	AGCAAGTT	IIIIIIII
`
	h, recs := readSAM(t, text)
	opts := testOptions()
	opts.QualityPolicy = transcode.PreserveNone{}
	data := writeCRAM(t, h, recs, testSource(testRef), opts)

	_, out, err := readCRAM(t, data, testSource(testRef), testOptions())
	require.NoError(t, err)
	require.Equal(t, "AGCAAGTT", string(out[0].Seq.Expand()))
	require.Equal(t, bytes.Repeat([]byte{0xff}, 8), out[0].Qual)
}

func TestParallelEncoderOrder(t *testing.T) {
	var out []byte
	p := NewParallelEncoder(context.Background(), 4, func(b []byte) error {
		out = append(out, b...)
		return nil
	}, zaptest.NewLogger(t))

	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, p.Submit(func(ctx context.Context) ([]byte, error) {
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
			return []byte{byte(i)}, nil
		}))
	}
	require.NoError(t, p.Wait())
	require.NoError(t, p.Wait())
	require.Len(t, out, 100)
	for i, b := range out {
		require.Equal(t, byte(i), b)
	}
}

func TestParallelEncoderJobError(t *testing.T) {
	boom := errors.New("boom")
	var emitted int
	p := NewParallelEncoder(context.Background(), 2, func([]byte) error {
		emitted++
		return nil
	}, nil)
	for i := 0; i < 20; i++ {
		i := i
		err := p.Submit(func(ctx context.Context) ([]byte, error) {
			if i == 3 {
				return nil, boom
			}
			return []byte{1}, nil
		})
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, p.Wait(), boom)
	require.LessOrEqual(t, emitted, 3)
}

func TestParallelEncoderEmitError(t *testing.T) {
	full := errors.New("disk full")
	p := NewParallelEncoder(context.Background(), 2, func([]byte) error { return full }, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func(ctx context.Context) ([]byte, error) { return []byte{0}, nil }))
	}
	require.ErrorIs(t, p.Wait(), full)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	for name, mutate := range map[string]func(*Options){
		"workers":  func(o *Options) { o.Workers = 0 },
		"slice":    func(o *Options) { o.RecordsPerSlice = 0 },
		"slices":   func(o *Options) { o.SlicesPerContainer = 0 },
		"method":   func(o *Options) { o.Method = structure.Method(3) },
		"level":    func(o *Options) { o.Level = 12 },
		"memory":   func(o *Options) { o.availableMemory = 1 },
		"negative": func(o *Options) { o.Level = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions()
			o.availableMemory = 64 * GB
			mutate(o)
			require.Error(t, o.Validate())
		})
	}

	var buf bytes.Buffer
	DefaultOptions().Show(&buf)
	require.Contains(t, buf.String(), "Records per slice: 10000")
}

func TestScanStatistics(t *testing.T) {
	h, recs := readSAM(t, testSAM)
	data := writeCRAM(t, h, recs, testSource(testRef), testOptions())

	stats, err := ScanStatistics(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 3, stats.Containers)
	require.Equal(t, 4, stats.Slices)
	require.Equal(t, int64(7), stats.TotalReads)
	require.Equal(t, int64(6), stats.MappedReads)
	require.Equal(t, int64(1), stats.UnmappedReads)
	require.Equal(t, int64(17+14+11+11+5+9+5), stats.TotalBases)
	require.Equal(t, 1, stats.References)

	require.Equal(t, int32(CoreContentID), stats.Blocks[0].ContentID)
	require.Equal(t, "core", stats.Blocks[0].Content)
	require.Equal(t, 4, stats.Blocks[0].Blocks)
	names := map[string]bool{}
	for _, b := range stats.Blocks {
		names[b.Content] = true
	}
	require.True(t, names["BA"])
	require.True(t, names["RN"])

	var text bytes.Buffer
	stats.WriteText(&text)
	require.Contains(t, text.String(), "Total reads: 7")

	var js bytes.Buffer
	require.NoError(t, stats.WriteJSON(&js))
	var back Statistics
	require.NoError(t, json.Unmarshal(js.Bytes(), &back))
	require.Equal(t, stats.TotalReads, back.TotalReads)
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewStorage(ctx, dir)
	require.NoError(t, err)
	require.False(t, s.IsS3())
	require.Equal(t, dir, s.BasePath())

	ok, err := s.Exists("sub/a.cram")
	require.NoError(t, err)
	require.False(t, ok)

	w, err := s.Create("sub/a.cram")
	require.NoError(t, err)
	_, err = w.Write([]byte("CRAM"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ok, err = s.Exists("sub/a.cram")
	require.NoError(t, err)
	require.True(t, ok)
	data, err := s.ReadFile("sub/a.cram")
	require.NoError(t, err)
	require.Equal(t, "CRAM", string(data))

	r, err := s.Open("sub/a.cram")
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "CRAM", string(data))

	files, err := s.List("sub")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join("sub", "a.cram")}, files)
}

func TestSplitPath(t *testing.T) {
	dir, name := SplitPath("s3://bucket/runs/a.cram")
	require.Equal(t, "s3://bucket/runs", dir)
	require.Equal(t, "a.cram", name)

	dir, name = SplitPath("s3://bucket/a.cram")
	require.Equal(t, "s3://bucket", dir)
	require.Equal(t, "a.cram", name)

	dir, name = SplitPath(filepath.Join("data", "a.cram"))
	require.Equal(t, "data", dir)
	require.Equal(t, "a.cram", name)

	require.True(t, IsS3URI("s3://bucket"))
	require.False(t, IsS3URI("/tmp/s3:/x"))
}

func TestOpenReference(t *testing.T) {
	dir := t.TempDir()
	fasta := filepath.Join(dir, "ref.fa")
	require.NoError(t, os.WriteFile(fasta, []byte(">ref\n"+testRef+"\n"), 0644))
	require.NoError(t, os.WriteFile(fasta+".fai", []byte("ref\t45\t5\t45\t46\n"), 0644))

	h, recs := readSAM(t, testSAM)
	src, closer, err := OpenReference(context.Background(), fasta, h)
	require.NoError(t, err)
	defer closer.Close()

	n, err := src.Length(0)
	require.NoError(t, err)
	require.Equal(t, int64(45), n)

	data := writeCRAM(t, h, recs, src, testOptions())
	_, out, err := readCRAM(t, data, src, testOptions())
	require.NoError(t, err)
	require.Equal(t, samLines(t, recs), samLines(t, out))
}

func TestParseFlags(t *testing.T) {
	m, err := ParseMethod("ZSTD")
	require.NoError(t, err)
	require.Equal(t, structure.Zstd, m)
	m, err = ParseMethod("none")
	require.NoError(t, err)
	require.Equal(t, structure.Raw, m)
	_, err = ParseMethod("bzip2")
	require.Error(t, err)

	p, err := ParseQualityPolicy("coverage:3")
	require.NoError(t, err)
	require.Equal(t, transcode.PreserveBelowCoverage{Depth: 3}, p)
	p, err = ParseQualityPolicy("mismatches")
	require.NoError(t, err)
	require.Equal(t, transcode.PreserveMismatches{}, p)
	p, err = ParseQualityPolicy("variants:2")
	require.NoError(t, err)
	require.Equal(t, transcode.PreserveVariantSites{Reads: 2}, p)
	for _, bad := range []string{"coverage", "coverage:0", "all:1", "some", "variants:-1"} {
		_, err := ParseQualityPolicy(bad)
		require.Error(t, err, bad)
	}
}
