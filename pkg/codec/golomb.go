package codec

import (
	"fmt"
	"math/bits"

	"github.com/scttfrdmn/cram-go/pkg/bitio"
)

// golomb writes (v+offset) as a unary quotient (ones closed by a zero)
// followed by a truncated binary remainder modulo m.
type golomb struct {
	offset int64
	m      int64
	b      int   // ceil(log2 m)
	cut    int64 // 2^b - m, remainders below use b-1 bits
}

func newGolombCoder(offset, m int32) (*golomb, error) {
	if m < 1 {
		return nil, fmt.Errorf("golomb: invalid modulus %d", m)
	}
	b := 0
	if m > 1 {
		b = bits.Len64(uint64(m - 1))
	}
	return &golomb{offset: int64(offset), m: int64(m), b: b, cut: int64(1)<<uint(b) - int64(m)}, nil
}

func (g *golomb) bits(v int64) int64 {
	u := v + g.offset
	if u < 0 {
		return -1
	}
	q, r := u/g.m, u%g.m
	n := q + 1
	if g.b > 0 {
		if r < g.cut {
			n += int64(g.b - 1)
		} else {
			n += int64(g.b)
		}
	}
	return n
}

func (g *golomb) write(w *bitio.Writer, v int64) error {
	u := v + g.offset
	if u < 0 {
		return fmt.Errorf("%w: %d with offset %d", ErrValueRange, v, g.offset)
	}
	q, r := u/g.m, u%g.m
	w.WriteRepeated(true, q)
	w.WriteBit(false)
	if g.b == 0 {
		return nil
	}
	if r < g.cut {
		w.WriteBits(uint64(r), g.b-1)
	} else {
		w.WriteBits(uint64(r+g.cut), g.b)
	}
	return nil
}

func (g *golomb) read(r *bitio.Reader) (int64, error) {
	q, err := r.CountRun(true)
	if err != nil {
		return 0, err
	}
	var rem int64
	if g.b > 0 {
		x, err := r.ReadBits(g.b - 1)
		if err != nil {
			return 0, err
		}
		rem = int64(x)
		if rem >= g.cut {
			bit, err := r.ReadBit()
			if err != nil {
				return 0, err
			}
			rem <<= 1
			if bit {
				rem |= 1
			}
			rem -= g.cut
		}
	}
	return q*g.m + rem - g.offset, nil
}

// NewGolomb returns a Golomb codec with modulus m.
func NewGolomb[T Integer](s *Streams, offset, m int32) (Codec[T], error) {
	g, err := newGolombCoder(offset, m)
	if err != nil {
		return nil, err
	}
	return newCore[T](s, g), nil
}

// rice is Golomb coding with m = 2^log2m; the remainder is a plain
// log2m-bit field.
type rice struct {
	offset int64
	log2m  int
}

func (g *rice) bits(v int64) int64 {
	u := v + g.offset
	if u < 0 {
		return -1
	}
	return u>>uint(g.log2m) + 1 + int64(g.log2m)
}

func (g *rice) write(w *bitio.Writer, v int64) error {
	u := v + g.offset
	if u < 0 {
		return fmt.Errorf("%w: %d with offset %d", ErrValueRange, v, g.offset)
	}
	w.WriteRepeated(true, u>>uint(g.log2m))
	w.WriteBit(false)
	w.WriteBits(uint64(u)&(1<<uint(g.log2m)-1), g.log2m)
	return nil
}

func (g *rice) read(r *bitio.Reader) (int64, error) {
	q, err := r.CountRun(true)
	if err != nil {
		return 0, err
	}
	rem, err := r.ReadBits(g.log2m)
	if err != nil {
		return 0, err
	}
	return q<<uint(g.log2m) | int64(rem) - g.offset, nil
}

// NewGolombRice returns a Golomb-Rice codec with m = 2^log2m.
func NewGolombRice[T Integer](s *Streams, offset, log2m int32) (Codec[T], error) {
	if log2m < 0 || log2m > 62 {
		return nil, fmt.Errorf("golomb-rice: invalid log2m %d", log2m)
	}
	return newCore[T](s, &rice{offset: int64(offset), log2m: int(log2m)}), nil
}
