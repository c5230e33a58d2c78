package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// roundTrip writes values through a freshly built codec, checks the reported
// bit counts and reads them back through a codec built over the output.
func roundTrip[T any](t *testing.T, build func(s *Streams) (Codec[T], error), values []T) {
	t.Helper()
	ws := NewWriteStreams()
	w, err := build(ws)
	require.NoError(t, err)

	var total int64
	for _, v := range values {
		want := w.BitsFor(v)
		require.GreaterOrEqual(t, want, int64(0), "value %v", v)
		got, err := w.Write(v)
		require.NoError(t, err)
		require.Equal(t, want, got, "bits for %v", v)
		total += got
	}
	if total > 0 && len(ws.External()) == 0 {
		require.Equal(t, total, ws.coreOut.Bits())
	}

	rs := NewReadStreams(ws.Core(), ws.External())
	r, err := build(rs)
	require.NoError(t, err)
	for _, v := range values {
		got, err := r.Read()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

var ints = []int32{0, 1, 2, 3, 7, 8, 15, 16, 100, 1000, 65535, 1 << 20}

func TestGolomb(t *testing.T) {
	for _, m := range []int32{1, 2, 3, 5, 8, 10} {
		roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewGolomb[int32](s, 0, m) }, ints[:8])
	}
	roundTrip(t, func(s *Streams) (Codec[int64], error) { return NewGolomb[int64](s, 5, 7) }, []int64{-5, -1, 0, 300})
}

func TestGolombRice(t *testing.T) {
	for _, k := range []int32{0, 1, 3, 6} {
		roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewGolombRice[int32](s, 0, k) }, ints[:9])
	}
}

func TestGamma(t *testing.T) {
	roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewGamma[int32](s, 1) }, ints)
	roundTrip(t, func(s *Streams) (Codec[int64], error) { return NewGamma[int64](s, 0) }, []int64{1, 2, 1 << 40})

	c, err := NewGamma[int32](NewWriteStreams(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(-1), c.BitsFor(0))
	_, err = c.Write(0)
	require.True(t, errors.Is(err, ErrValueRange))
}

func TestGammaBitCosts(t *testing.T) {
	c, err := NewGamma[int32](nil, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.BitsFor(1))
	require.Equal(t, int64(3), c.BitsFor(2))
	require.Equal(t, int64(3), c.BitsFor(3))
	require.Equal(t, int64(5), c.BitsFor(4))
}

func TestBeta(t *testing.T) {
	roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewBeta[int32](s, 0, 21) }, ints)
	roundTrip(t, func(s *Streams) (Codec[uint8], error) { return NewBeta[uint8](s, 0, 8) }, []uint8{0, 1, 255})
	roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewBeta[int32](s, 0, 0) }, []int32{0, 0, 0})

	c, err := NewBeta[int32](nil, 0, 3)
	require.NoError(t, err)
	require.Equal(t, int64(-1), c.BitsFor(8))
	require.Equal(t, int32(3), BetaWidth(7))
	require.Equal(t, int32(4), BetaWidth(8))
}

func TestSubExp(t *testing.T) {
	for _, k := range []int32{0, 1, 2, 4} {
		roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewSubExp[int32](s, 0, k) }, ints)
	}
	c, err := NewSubExp[int32](nil, 0, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), c.BitsFor(3))   // 0 + 2 bits
	require.Equal(t, int64(4), c.BitsFor(4))   // 10 + 2 bits
	require.Equal(t, int64(6), c.BitsFor(8))   // 110 + 3 bits
	require.Equal(t, int64(6), c.BitsFor(15))
}

func TestHuffman(t *testing.T) {
	values := []int32{1, 2, 3, 4, 5}
	lengths := []int32{1, 2, 3, 4, 4}
	roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewHuffman[int32](s, values, lengths) },
		[]int32{1, 1, 2, 5, 4, 3, 1})
}

func TestHuffmanSingleSymbol(t *testing.T) {
	build := func(s *Streams) (Codec[uint8], error) { return NewHuffman[uint8](s, []int32{'A'}, []int32{0}) }
	roundTrip(t, build, []uint8{'A', 'A', 'A'})
	ws := NewWriteStreams()
	c, err := build(ws)
	require.NoError(t, err)
	_, err = c.Write('A')
	require.NoError(t, err)
	require.Empty(t, ws.Core())
	_, err = c.Write('C')
	require.True(t, errors.Is(err, ErrValueRange))
}

func TestHuffmanCanonicalOrder(t *testing.T) {
	// the same table in different insertion orders assigns identical codes
	a, err := newHuffmanCoder([]int32{9, 3, 7, 1}, []int32{2, 2, 2, 2})
	require.NoError(t, err)
	b, err := newHuffmanCoder([]int32{1, 3, 7, 9}, []int32{2, 2, 2, 2})
	require.NoError(t, err)
	require.Equal(t, a.codes, b.codes)
	require.Equal(t, uint64(0), a.codes[1].bits)
	require.Equal(t, uint64(3), a.codes[9].bits)
}

func TestHuffmanInvalidTables(t *testing.T) {
	_, err := newHuffmanCoder([]int32{1, 2, 3}, []int32{1, 1, 1})
	require.Error(t, err)
	_, err = newHuffmanCoder([]int32{1, 1}, []int32{1, 1})
	require.Error(t, err)
	_, err = newHuffmanCoder(nil, nil)
	require.Error(t, err)
}

func TestHuffmanLengths(t *testing.T) {
	freq := map[int64]int64{10: 50, 20: 25, 30: 15, 40: 10}
	values, lengths := HuffmanLengths(freq)
	require.Equal(t, []int32{10, 20, 30, 40}, values)
	require.Equal(t, []int32{1, 2, 3, 3}, lengths)
	roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewHuffman[int32](s, values, lengths) },
		[]int32{10, 20, 30, 40, 10})

	values, lengths = HuffmanLengths(map[int64]int64{7: 3})
	require.Equal(t, []int32{7}, values)
	require.Equal(t, []int32{0}, lengths)
}

func TestExternal(t *testing.T) {
	roundTrip(t, func(s *Streams) (Codec[uint8], error) { return NewExternal[uint8](s, 3) }, []uint8{0, 'A', 255})
	roundTrip(t, func(s *Streams) (Codec[int32], error) { return NewExternal[int32](s, 4) }, append(ints, -1))
	roundTrip(t, func(s *Streams) (Codec[int64], error) { return NewExternal[int64](s, 5) }, []int64{0, 1 << 40, -7})
}

func TestExternalMissingBlock(t *testing.T) {
	rs := NewReadStreams(nil, map[int32][]byte{1: {1}})
	_, err := NewExternal[int32](rs, 2)
	require.True(t, errors.Is(err, cramerr.ErrMissingBlock))
}

func TestExternalTruncated(t *testing.T) {
	rs := NewReadStreams(nil, map[int32][]byte{1: {0x80}})
	c, err := NewExternal[int32](rs, 1)
	require.NoError(t, err)
	_, err = c.Read()
	require.True(t, errors.Is(err, cramerr.ErrTruncated))
}

func TestByteArrayStop(t *testing.T) {
	build := func(s *Streams) (Codec[[]byte], error) { return NewByteArrayStop(s, '\t', 11) }
	roundTrip(t, build, [][]byte{[]byte("read1"), {}, []byte("ACGT")})

	c, err := build(NewWriteStreams())
	require.NoError(t, err)
	_, err = c.Write([]byte("a\tb"))
	require.True(t, errors.Is(err, ErrValueRange))
}

func TestByteArrayLen(t *testing.T) {
	build := func(s *Streams) (Codec[[]byte], error) {
		l, err := NewExternal[int32](s, 20)
		if err != nil {
			return nil, err
		}
		v, err := NewExternal[uint8](s, 21)
		if err != nil {
			return nil, err
		}
		return NewByteArrayLen(l, v), nil
	}
	roundTrip(t, build, [][]byte{[]byte("hello"), {}, {0, 1, 2}})

	core := func(s *Streams) (Codec[[]byte], error) {
		l, err := NewGamma[int32](s, 1)
		if err != nil {
			return nil, err
		}
		v, err := NewBeta[uint8](s, 0, 8)
		if err != nil {
			return nil, err
		}
		return NewByteArrayLen(l, v), nil
	}
	roundTrip(t, core, [][]byte{[]byte("xy"), {}})
}

func TestNull(t *testing.T) {
	c := NewNull[int32]()
	n, err := c.Write(42)
	require.NoError(t, err)
	require.Zero(t, n)
	v, err := c.Read()
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestMixedCoreStream(t *testing.T) {
	// interleaved codecs on one core stream must be read back in write order
	ws := NewWriteStreams()
	g, _ := NewGamma[int32](ws, 1)
	b, _ := NewBeta[int32](ws, 0, 5)
	h, _ := NewHuffman[int32](ws, []int32{0, 1}, []int32{1, 1})
	for i := int32(0); i < 20; i++ {
		_, err := g.Write(i)
		require.NoError(t, err)
		_, err = b.Write(i % 32)
		require.NoError(t, err)
		_, err = h.Write(i % 2)
		require.NoError(t, err)
	}
	rs := NewReadStreams(ws.Core(), nil)
	g, _ = NewGamma[int32](rs, 1)
	b, _ = NewBeta[int32](rs, 0, 5)
	h, _ = NewHuffman[int32](rs, []int32{0, 1}, []int32{1, 1})
	for i := int32(0); i < 20; i++ {
		v, err := g.Read()
		require.NoError(t, err)
		require.Equal(t, i, v)
		v, err = b.Read()
		require.NoError(t, err)
		require.Equal(t, i%32, v)
		v, err = h.Read()
		require.NoError(t, err)
		require.Equal(t, i%2, v)
	}
}
