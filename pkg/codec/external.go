package codec

import (
	"fmt"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/itf8"
)

// NewExternal returns a codec that passes values straight through to the
// external stream with the given content id. Bytes are stored raw, int32
// values as ITF8 and int64 values as LTF8.
func NewExternal[T Integer](s *Streams, id int32) (Codec[T], error) {
	if err := s.bindExternal(id); err != nil {
		return nil, err
	}
	var c any
	var zero T
	switch any(zero).(type) {
	case uint8:
		c = &externalByte{s: s, id: id}
	case int32:
		c = &externalInt{s: s, id: id}
	case int64:
		c = &externalLong{s: s, id: id}
	default:
		return nil, fmt.Errorf("%w: external %T", cramerr.ErrUnsupportedType, zero)
	}
	ct, ok := c.(Codec[T])
	if !ok {
		return nil, fmt.Errorf("%w: external %T", cramerr.ErrUnsupportedType, zero)
	}
	return ct, nil
}

type externalByte struct {
	s  *Streams
	id int32
}

func (c *externalByte) Read() (byte, error) {
	r, err := c.s.in(c.id)
	if err != nil {
		return 0, err
	}
	b, err := r.ReadByte()
	if err != nil {
		return 0, cramerr.Truncated(err)
	}
	return b, nil
}

func (c *externalByte) Write(v byte) (int64, error) {
	w, err := c.s.out(c.id)
	if err != nil {
		return 0, err
	}
	w.WriteByte(v)
	return 8, nil
}

func (c *externalByte) BitsFor(byte) int64 { return 8 }

type externalInt struct {
	s  *Streams
	id int32
}

func (c *externalInt) Read() (int32, error) {
	r, err := c.s.in(c.id)
	if err != nil {
		return 0, err
	}
	v, err := itf8.Read(r)
	if err != nil {
		return 0, cramerr.Truncated(err)
	}
	return v, nil
}

func (c *externalInt) Write(v int32) (int64, error) {
	w, err := c.s.out(c.id)
	if err != nil {
		return 0, err
	}
	var scratch [5]byte
	b := itf8.Append(scratch[:0], v)
	w.Write(b)
	return int64(8 * len(b)), nil
}

func (c *externalInt) BitsFor(v int32) int64 { return int64(8 * itf8.Size(v)) }

type externalLong struct {
	s  *Streams
	id int32
}

func (c *externalLong) Read() (int64, error) {
	r, err := c.s.in(c.id)
	if err != nil {
		return 0, err
	}
	v, err := itf8.ReadLong(r)
	if err != nil {
		return 0, cramerr.Truncated(err)
	}
	return v, nil
}

func (c *externalLong) Write(v int64) (int64, error) {
	w, err := c.s.out(c.id)
	if err != nil {
		return 0, err
	}
	var scratch [9]byte
	b := itf8.AppendLong(scratch[:0], v)
	w.Write(b)
	return int64(8 * len(b)), nil
}

func (c *externalLong) BitsFor(v int64) int64 { return int64(8 * itf8.SizeLong(v)) }
