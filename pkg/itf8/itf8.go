// Package itf8 implements the ITF8 and LTF8 variable length integers used by
// CRAM headers and external streams.
//
// ITF8 stores a 32-bit value in 1 to 5 bytes and LTF8 a 64-bit value in 1 to 9
// bytes. The number of leading one bits in the first byte gives the number of
// bytes that follow.
package itf8

import (
	"io"
)

// Size returns the number of bytes ITF8 needs for v.
func Size(v int32) int {
	u := uint32(v)
	switch {
	case u>>7 == 0:
		return 1
	case u>>14 == 0:
		return 2
	case u>>21 == 0:
		return 3
	case u>>28 == 0:
		return 4
	default:
		return 5
	}
}

// Append appends the ITF8 form of v to buf.
func Append(buf []byte, v int32) []byte {
	u := uint32(v)
	switch {
	case u>>7 == 0:
		return append(buf, byte(u))
	case u>>14 == 0:
		return append(buf, byte(u>>8)|0x80, byte(u))
	case u>>21 == 0:
		return append(buf, byte(u>>16)|0xC0, byte(u>>8), byte(u))
	case u>>28 == 0:
		return append(buf, byte(u>>24)|0xE0, byte(u>>16), byte(u>>8), byte(u))
	default:
		return append(buf, byte(u>>28)|0xF0, byte(u>>20), byte(u>>12), byte(u>>4), byte(u)&0x0F)
	}
}

// Read reads one ITF8 value.
func Read(r io.ByteReader) (int32, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	var n int
	var u uint32
	switch {
	case b0&0x80 == 0:
		return int32(b0), nil
	case b0&0x40 == 0:
		n, u = 1, uint32(b0&0x3F)
	case b0&0x20 == 0:
		n, u = 2, uint32(b0&0x1F)
	case b0&0x10 == 0:
		n, u = 3, uint32(b0&0x0F)
	default:
		n, u = 4, uint32(b0&0x0F)
	}
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, unexpected(err)
		}
		if n == 4 && i == 3 {
			u = u<<4 | uint32(b&0x0F)
			break
		}
		u = u<<8 | uint32(b)
	}
	return int32(u), nil
}

// Decode reads one ITF8 value from the front of buf and returns it with the
// number of bytes consumed.
func Decode(buf []byte) (int32, int, error) {
	r := byteSlice{buf: buf}
	v, err := Read(&r)
	return v, r.off, err
}

// SizeLong returns the number of bytes LTF8 needs for v.
func SizeLong(v int64) int {
	u := uint64(v)
	for n := 0; n < 8; n++ {
		if u>>(7*uint(n+1)) == 0 {
			return n + 1
		}
	}
	return 9
}

// AppendLong appends the LTF8 form of v to buf.
func AppendLong(buf []byte, v int64) []byte {
	u := uint64(v)
	n := SizeLong(v) - 1
	switch n {
	case 8:
		buf = append(buf, 0xFF)
		for s := 56; s >= 0; s -= 8 {
			buf = append(buf, byte(u>>uint(s)))
		}
		return buf
	case 7:
		buf = append(buf, 0xFE)
		for s := 48; s >= 0; s -= 8 {
			buf = append(buf, byte(u>>uint(s)))
		}
		return buf
	}
	prefix := byte(0xFF << uint(8-n))
	buf = append(buf, prefix|byte(u>>uint(8*n)))
	for s := 8 * (n - 1); s >= 0; s -= 8 {
		buf = append(buf, byte(u>>uint(s)))
	}
	return buf
}

// ReadLong reads one LTF8 value.
func ReadLong(r io.ByteReader) (int64, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	n := 0
	for n < 8 && b0&(0x80>>uint(n)) != 0 {
		n++
	}
	var u uint64
	if n < 7 {
		u = uint64(b0 & (0xFF >> uint(n+1)))
	}
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, unexpected(err)
		}
		u = u<<8 | uint64(b)
	}
	return int64(u), nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

type byteSlice struct {
	buf []byte
	off int
}

func (b *byteSlice) ReadByte() (byte, error) {
	if b.off >= len(b.buf) {
		return 0, io.EOF
	}
	c := b.buf[b.off]
	b.off++
	return c, nil
}
