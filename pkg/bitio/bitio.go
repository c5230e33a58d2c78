// Package bitio implements the MSB-first bit stream that carries the CRAM
// core block.
package bitio

import (
	"io"
)

// Writer packs bits most significant bit first into a byte slice.
type Writer struct {
	buf  []byte
	cur  byte
	nCur uint // bits used in cur
	bits int64
}

// NewWriter returns an empty bit writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteBit appends one bit.
func (w *Writer) WriteBit(bit bool) {
	w.cur <<= 1
	if bit {
		w.cur |= 1
	}
	w.nCur++
	w.bits++
	if w.nCur == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur, w.nCur = 0, 0
	}
}

// WriteBits appends the low n bits of v, most significant first. n may be 0.
func (w *Writer) WriteBits(v uint64, n int) {
	for n > 0 {
		if w.nCur == 0 && n >= 8 {
			w.buf = append(w.buf, byte(v>>uint(n-8)))
			w.bits += 8
			n -= 8
			continue
		}
		n--
		w.WriteBit(v>>uint(n)&1 == 1)
	}
}

// WriteRepeated appends n copies of bit.
func (w *Writer) WriteRepeated(bit bool, n int64) {
	for ; n > 0; n-- {
		w.WriteBit(bit)
	}
}

// Bits returns the number of bits written so far.
func (w *Writer) Bits() int64 { return w.bits }

// Bytes returns the stream padded with zero bits to a whole byte.
func (w *Writer) Bytes() []byte {
	if w.nCur == 0 {
		return w.buf
	}
	out := make([]byte, len(w.buf), len(w.buf)+1)
	copy(out, w.buf)
	return append(out, w.cur<<(8-w.nCur))
}

// Reader reads bits most significant bit first from a byte slice.
type Reader struct {
	data []byte
	pos  int  // next byte
	cur  byte // bits not yet consumed, left aligned
	nCur uint
}

// NewReader returns a bit reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadBit reads one bit. It returns io.ErrUnexpectedEOF past the end of the
// data.
func (r *Reader) ReadBit() (bool, error) {
	if r.nCur == 0 {
		if r.pos >= len(r.data) {
			return false, io.ErrUnexpectedEOF
		}
		r.cur = r.data[r.pos]
		r.pos++
		r.nCur = 8
	}
	bit := r.cur&0x80 != 0
	r.cur <<= 1
	r.nCur--
	return bit, nil
}

// ReadBits reads n bits, n <= 64, as an unsigned value.
func (r *Reader) ReadBits(n int) (uint64, error) {
	var v uint64
	for n > 0 {
		if r.nCur == 0 && n >= 8 {
			if r.pos >= len(r.data) {
				return 0, io.ErrUnexpectedEOF
			}
			v = v<<8 | uint64(r.data[r.pos])
			r.pos++
			n -= 8
			continue
		}
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		v <<= 1
		if bit {
			v |= 1
		}
		n--
	}
	return v, nil
}

// CountRun reads bits until one differs from bit and returns how many equal
// bits preceded it. The differing bit is consumed.
func (r *Reader) CountRun(bit bool) (int64, error) {
	var n int64
	for {
		b, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if b != bit {
			return n, nil
		}
		n++
	}
}
