package codec

import (
	"bytes"
	"fmt"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// byteArrayLen writes the array length with one codec and then each byte
// with another.
type byteArrayLen struct {
	length Codec[int32]
	value  Codec[byte]
}

// NewByteArrayLen returns a length-prefixed byte array codec.
func NewByteArrayLen(length Codec[int32], value Codec[byte]) Codec[[]byte] {
	return &byteArrayLen{length: length, value: value}
}

func (c *byteArrayLen) Read() ([]byte, error) {
	n, err := c.length.Read()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative array length %d", ErrValueRange, n)
	}
	return ReadN(c.value, int(n))
}

func (c *byteArrayLen) Write(v []byte) (int64, error) {
	n, err := c.length.Write(int32(len(v)))
	if err != nil {
		return 0, err
	}
	m, err := WriteAll(c.value, v)
	return n + m, err
}

func (c *byteArrayLen) BitsFor(v []byte) int64 {
	n := c.length.BitsFor(int32(len(v)))
	if n < 0 {
		return -1
	}
	for _, b := range v {
		m := c.value.BitsFor(b)
		if m < 0 {
			return -1
		}
		n += m
	}
	return n
}

// byteArrayStop writes the bytes followed by a stop byte to an external
// stream. The stop byte must not occur in the values.
type byteArrayStop struct {
	s    *Streams
	id   int32
	stop byte
}

// NewByteArrayStop returns a stop-byte terminated array codec over external
// stream id.
func NewByteArrayStop(s *Streams, stop byte, id int32) (Codec[[]byte], error) {
	if err := s.bindExternal(id); err != nil {
		return nil, err
	}
	return &byteArrayStop{s: s, id: id, stop: stop}, nil
}

func (c *byteArrayStop) Read() ([]byte, error) {
	r, err := c.s.in(c.id)
	if err != nil {
		return nil, err
	}
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, cramerr.Truncated(err)
		}
		if b == c.stop {
			return out, nil
		}
		out = append(out, b)
	}
}

func (c *byteArrayStop) Write(v []byte) (int64, error) {
	if bytes.IndexByte(v, c.stop) >= 0 {
		return 0, fmt.Errorf("%w: value contains stop byte 0x%02x", ErrValueRange, c.stop)
	}
	w, err := c.s.out(c.id)
	if err != nil {
		return 0, err
	}
	w.Write(v)
	w.WriteByte(c.stop)
	return int64(8 * (len(v) + 1)), nil
}

func (c *byteArrayStop) BitsFor(v []byte) int64 {
	if bytes.IndexByte(v, c.stop) >= 0 {
		return -1
	}
	return int64(8 * (len(v) + 1))
}
