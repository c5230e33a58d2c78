package reference

import (
	"bytes"
	"crypto/md5"
	"errors"
	"strings"
	"testing"

	"github.com/biogo/hts/fai"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(Sequence{Name: "chr1", Bases: []byte("acgtNNacgt")})
	b, err := src.Bases(0, 2, 6)
	require.NoError(t, err)
	require.Equal(t, "GTNN", string(b))
	n, err := src.Length(0)
	require.NoError(t, err)
	require.Equal(t, int64(10), n)

	_, err = src.Bases(1, 0, 1)
	require.True(t, errors.Is(err, cramerr.ErrNoReference))
	_, err = src.Bases(0, 5, 11)
	require.True(t, errors.Is(err, cramerr.ErrOutOfWindow))
}

func TestFaiSource(t *testing.T) {
	fasta := ">chr1\nACGTACGTAC\nGTACG\n>chr2\nTTTTGGGG\n"
	idx, err := fai.NewIndex(strings.NewReader(fasta))
	require.NoError(t, err)
	src := NewFaiSource(strings.NewReader(fasta), idx, []string{"chr1", "chr2"})

	b, err := src.Bases(0, 8, 12)
	require.NoError(t, err)
	require.Equal(t, "ACGT", string(b))
	n, err := src.Length(0)
	require.NoError(t, err)
	require.Equal(t, int64(15), n)
	b, err = src.Bases(1, 4, 8)
	require.NoError(t, err)
	require.Equal(t, "GGGG", string(b))

	_, err = src.Length(2)
	require.True(t, errors.Is(err, cramerr.ErrNoReference))
}

func TestWindow(t *testing.T) {
	src := NewMemorySource(Sequence{Name: "chr1", Bases: []byte(strings.Repeat("N", 99) + "ACGTACGT")})
	w, err := Load(src, 0, 100, 103)
	require.NoError(t, err)
	require.Equal(t, int64(103), w.End())

	b, err := w.BaseAt(100)
	require.NoError(t, err)
	require.Equal(t, byte('A'), b)
	_, err = w.BaseAt(104)
	require.True(t, errors.Is(err, cramerr.ErrOutOfWindow))
	_, err = w.BaseAt(99)
	require.True(t, errors.Is(err, cramerr.ErrOutOfWindow))

	r, err := w.Range(101, 102)
	require.NoError(t, err)
	require.Equal(t, "CG", string(r))
	sum, err := w.MD5(100, 103)
	require.NoError(t, err)
	require.Equal(t, md5.Sum([]byte("ACGT")), sum)

	w, err = Load(src, 0, 105, 500)
	require.NoError(t, err)
	require.Equal(t, int64(107), w.End())

	var none *Window
	_, err = none.BaseAt(1)
	require.True(t, errors.Is(err, cramerr.ErrOutOfWindow))
}

func TestTracks(t *testing.T) {
	src := NewMemorySource(Sequence{Name: "chr1", Bases: bytes.Repeat([]byte("ACGT"), 10)})
	tr, err := NewTracks(src, 0)
	require.NoError(t, err)

	require.NoError(t, tr.AddCoverage(3, 4))
	require.NoError(t, tr.AddCoverage(5, 4))
	require.NoError(t, tr.AddMismatch(6))
	require.Equal(t, int32(1), tr.Coverage(3))
	require.Equal(t, int32(2), tr.Coverage(5))
	require.Equal(t, int32(2), tr.Coverage(6))
	require.Equal(t, int32(1), tr.Coverage(8))
	require.Equal(t, int32(1), tr.Mismatches(6))
	b, err := tr.BaseAt(5)
	require.NoError(t, err)
	require.Equal(t, byte('A'), b)

	require.NoError(t, tr.MoveForward(5))
	require.Equal(t, int64(5), tr.Start())
	require.Equal(t, int32(2), tr.Coverage(5))
	require.Equal(t, int32(0), tr.Coverage(3))
	require.Equal(t, int32(1), tr.Mismatches(6))
	require.Error(t, tr.MoveForward(4))

	require.NoError(t, tr.MoveForward(30))
	require.Equal(t, int32(0), tr.Coverage(30))
	require.NoError(t, tr.AddCoverage(38, 10))
	require.Equal(t, int64(40), tr.End())
	_, err = tr.BaseAt(41)
	require.True(t, errors.Is(err, cramerr.ErrOutOfWindow))
}
