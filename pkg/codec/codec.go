// Package codec implements the CRAM value codecs.
//
// A codec reads and writes one value at a time against a Streams set. Entropy
// codecs (Huffman, Golomb, Golomb-Rice, Gamma, Beta, SubExp) share the core
// bit stream; External and ByteArrayStop use a byte aligned external stream.
// Every codec is symmetric: a value written with Write is returned unchanged
// by Read, and BitsFor reports exactly the bits Write produces.
package codec

import (
	"errors"
	"fmt"

	"github.com/scttfrdmn/cram-go/pkg/bitio"
	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// ErrValueRange is returned when a value cannot be represented by a codec's
// parameters.
var ErrValueRange = errors.New("codec: value out of range")

// Integer is the set of value types carried by the integer codecs.
type Integer interface {
	~uint8 | ~int32 | ~int64
}

// Codec reads and writes values of type T.
type Codec[T any] interface {
	// Read decodes the next value.
	Read() (T, error)
	// Write encodes v and returns the number of bits produced.
	Write(v T) (int64, error)
	// BitsFor returns the bits Write(v) would produce without writing,
	// or -1 if v cannot be encoded.
	BitsFor(v T) int64
}

// intCoder is an integer code over the core bit stream.
type intCoder interface {
	read(r *bitio.Reader) (int64, error)
	write(w *bitio.Writer, v int64) error
	bits(v int64) int64
}

type coreCodec[T Integer] struct {
	c intCoder
	s *Streams
}

func newCore[T Integer](s *Streams, c intCoder) Codec[T] {
	return &coreCodec[T]{c: c, s: s}
}

func (c *coreCodec[T]) Read() (T, error) {
	r, err := c.s.coreReader()
	if err != nil {
		return 0, err
	}
	v, err := c.c.read(r)
	if err != nil {
		return 0, cramerr.Truncated(err)
	}
	return T(v), nil
}

func (c *coreCodec[T]) Write(v T) (int64, error) {
	w, err := c.s.coreWriter()
	if err != nil {
		return 0, err
	}
	n := c.c.bits(int64(v))
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrValueRange, int64(v))
	}
	if err := c.c.write(w, int64(v)); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *coreCodec[T]) BitsFor(v T) int64 {
	return c.c.bits(int64(v))
}

// Null is the codec of an absent data series. Read returns the zero value
// without touching any stream and Write discards.
type Null[T any] struct{}

// NewNull returns a Null codec.
func NewNull[T any]() Codec[T] { return Null[T]{} }

func (Null[T]) Read() (T, error) {
	var zero T
	return zero, nil
}

func (Null[T]) Write(T) (int64, error) { return 0, nil }

func (Null[T]) BitsFor(T) int64 { return 0 }

// ReadN reads n consecutive values with c.
func ReadN[T any](c Codec[T], n int) ([]T, error) {
	out := make([]T, n)
	for i := range out {
		v, err := c.Read()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// WriteAll writes every value of vs with c and returns the total bits.
func WriteAll[T any](c Codec[T], vs []T) (int64, error) {
	var total int64
	for _, v := range vs {
		n, err := c.Write(v)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
