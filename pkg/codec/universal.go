package codec

import (
	"fmt"
	"math/bits"

	"github.com/scttfrdmn/cram-go/pkg/bitio"
)

// gamma is Elias gamma coding of v+offset, which must be at least 1: floor(log2)
// zeros followed by the value itself.
type gamma struct {
	offset int64
}

func (g *gamma) bits(v int64) int64 {
	u := v + g.offset
	if u < 1 {
		return -1
	}
	n := int64(bits.Len64(uint64(u)))
	return 2*n - 1
}

func (g *gamma) write(w *bitio.Writer, v int64) error {
	u := v + g.offset
	if u < 1 {
		return fmt.Errorf("%w: %d with offset %d", ErrValueRange, v, g.offset)
	}
	n := bits.Len64(uint64(u))
	w.WriteRepeated(false, int64(n-1))
	w.WriteBits(uint64(u), n)
	return nil
}

func (g *gamma) read(r *bitio.Reader) (int64, error) {
	zeros, err := r.CountRun(false)
	if err != nil {
		return 0, err
	}
	if zeros > 62 {
		return 0, fmt.Errorf("gamma: prefix of %d zeros", zeros)
	}
	rest, err := r.ReadBits(int(zeros))
	if err != nil {
		return 0, err
	}
	u := int64(1)<<uint(zeros) | int64(rest)
	return u - g.offset, nil
}

// NewGamma returns an Elias gamma codec.
func NewGamma[T Integer](s *Streams, offset int32) (Codec[T], error) {
	return newCore[T](s, &gamma{offset: int64(offset)}), nil
}

// beta writes v+offset in a fixed number of bits.
type beta struct {
	offset int64
	nbits  int
}

func (b *beta) bits(v int64) int64 {
	u := v + b.offset
	if u < 0 || (b.nbits < 64 && uint64(u)>>uint(b.nbits) != 0) {
		return -1
	}
	return int64(b.nbits)
}

func (b *beta) write(w *bitio.Writer, v int64) error {
	if b.bits(v) < 0 {
		return fmt.Errorf("%w: %d does not fit %d bits with offset %d", ErrValueRange, v, b.nbits, b.offset)
	}
	w.WriteBits(uint64(v+b.offset), b.nbits)
	return nil
}

func (b *beta) read(r *bitio.Reader) (int64, error) {
	u, err := r.ReadBits(b.nbits)
	if err != nil {
		return 0, err
	}
	return int64(u) - b.offset, nil
}

// NewBeta returns a fixed width codec of nbits bits.
func NewBeta[T Integer](s *Streams, offset, nbits int32) (Codec[T], error) {
	if nbits < 0 || nbits > 63 {
		return nil, fmt.Errorf("beta: invalid bit width %d", nbits)
	}
	return newCore[T](s, &beta{offset: int64(offset), nbits: int(nbits)}), nil
}

// BetaWidth returns the bit width a Beta code needs for values in [0, max].
func BetaWidth(max int64) int32 {
	if max <= 0 {
		return 0
	}
	return int32(bits.Len64(uint64(max)))
}

// subexp codes v+offset below 2^k in k plain bits (prefix 0) and larger
// values with a unary length prefix followed by all but the leading bit.
type subexp struct {
	offset int64
	k      int
}

func (s *subexp) split(u int64) (unary int64, nbits int) {
	if u < int64(1)<<uint(s.k) {
		return 0, s.k
	}
	b := bits.Len64(uint64(u)) - 1
	return int64(b - s.k + 1), b
}

func (s *subexp) bits(v int64) int64 {
	u := v + s.offset
	if u < 0 {
		return -1
	}
	unary, nbits := s.split(u)
	return unary + 1 + int64(nbits)
}

func (s *subexp) write(w *bitio.Writer, v int64) error {
	u := v + s.offset
	if u < 0 {
		return fmt.Errorf("%w: %d with offset %d", ErrValueRange, v, s.offset)
	}
	unary, nbits := s.split(u)
	w.WriteRepeated(true, unary)
	w.WriteBit(false)
	w.WriteBits(uint64(u), nbits)
	return nil
}

func (s *subexp) read(r *bitio.Reader) (int64, error) {
	unary, err := r.CountRun(true)
	if err != nil {
		return 0, err
	}
	if unary == 0 {
		x, err := r.ReadBits(s.k)
		if err != nil {
			return 0, err
		}
		return int64(x) - s.offset, nil
	}
	b := int(unary) + s.k - 1
	if b > 62 {
		return 0, fmt.Errorf("subexp: prefix of %d ones", unary)
	}
	x, err := r.ReadBits(b)
	if err != nil {
		return 0, err
	}
	return (int64(1)<<uint(b) | int64(x)) - s.offset, nil
}

// NewSubExp returns a sub-exponential codec with parameter k.
func NewSubExp[T Integer](s *Streams, offset, k int32) (Codec[T], error) {
	if k < 0 || k > 62 {
		return nil, fmt.Errorf("subexp: invalid k %d", k)
	}
	return newCore[T](s, &subexp{offset: int64(offset), k: int(k)}), nil
}
