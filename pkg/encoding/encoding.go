// Package encoding describes how a data series is encoded: an EncodingID and
// its serialized parameters. Params are persisted in the compression header
// and fully determine the codec that BuildInteger or BuildByteArray binds to
// a slice's streams.
package encoding

import (
	"bytes"
	"fmt"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/itf8"
)

// ID is the persisted encoding discriminator.
type ID int32

// Encoding ids
const (
	Null          ID = 0
	External      ID = 1
	Golomb        ID = 2
	Huffman       ID = 3
	ByteArrayLen  ID = 4
	ByteArrayStop ID = 5
	Beta          ID = 6
	SubExp        ID = 7
	GolombRice    ID = 8
	Gamma         ID = 9
)

var idNames = map[ID]string{
	Null:          "NULL",
	External:      "EXTERNAL",
	Golomb:        "GOLOMB",
	Huffman:       "HUFFMAN",
	ByteArrayLen:  "BYTE_ARRAY_LEN",
	ByteArrayStop: "BYTE_ARRAY_STOP",
	Beta:          "BETA",
	SubExp:        "SUBEXP",
	GolombRice:    "GOLOMB_RICE",
	Gamma:         "GAMMA",
}

func (id ID) String() string {
	if s, ok := idNames[id]; ok {
		return s
	}
	return fmt.Sprintf("ID(%d)", int32(id))
}

// Valid reports whether id is a known encoding.
func (id ID) Valid() bool {
	_, ok := idNames[id]
	return ok
}

// Params is an encoding id with its serialized arguments.
type Params struct {
	ID   ID
	Args []byte
}

func (p Params) String() string {
	switch p.ID {
	case Null:
		return "NULL"
	case ByteArrayLen:
		l, v, err := p.byteArrayLenParts()
		if err != nil {
			return "BYTE_ARRAY_LEN(?)"
		}
		return fmt.Sprintf("BYTE_ARRAY_LEN(%v, %v)", l, v)
	case ByteArrayStop:
		if len(p.Args) > 0 {
			id, _, _ := itf8.Decode(p.Args[1:])
			return fmt.Sprintf("BYTE_ARRAY_STOP(0x%02x, %d)", p.Args[0], id)
		}
	}
	ints, err := p.ints()
	if err != nil {
		return p.ID.String() + "(?)"
	}
	return fmt.Sprintf("%v%v", p.ID, ints)
}

// Append appends the id, the argument length and the arguments.
func (p Params) Append(buf []byte) []byte {
	buf = itf8.Append(buf, int32(p.ID))
	buf = itf8.Append(buf, int32(len(p.Args)))
	return append(buf, p.Args...)
}

// ReadParams reads Params as written by Append.
func ReadParams(r *bytes.Reader) (Params, error) {
	id, err := itf8.Read(r)
	if err != nil {
		return Params{}, cramerr.Truncated(err)
	}
	if !ID(id).Valid() {
		return Params{}, fmt.Errorf("%w: %d", cramerr.ErrUnknownEncoding, id)
	}
	n, err := itf8.Read(r)
	if err != nil {
		return Params{}, cramerr.Truncated(err)
	}
	if n < 0 || int(n) > r.Len() {
		return Params{}, fmt.Errorf("%w: encoding arguments of %d bytes", cramerr.ErrTruncated, n)
	}
	args := make([]byte, n)
	if _, err := r.Read(args); err != nil && n > 0 {
		return Params{}, cramerr.Truncated(err)
	}
	return Params{ID: ID(id), Args: args}, nil
}

// Equal reports whether p and q describe the same encoding.
func (p Params) Equal(q Params) bool {
	return p.ID == q.ID && bytes.Equal(p.Args, q.Args)
}

func intArgs(vs ...int32) []byte {
	var buf []byte
	for _, v := range vs {
		buf = itf8.Append(buf, v)
	}
	return buf
}

// ints decodes Args as a flat ITF8 list.
func (p Params) ints() ([]int32, error) {
	r := bytes.NewReader(p.Args)
	var out []int32
	for r.Len() > 0 {
		v, err := itf8.Read(r)
		if err != nil {
			return nil, cramerr.Truncated(err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (p Params) fixedInts(n int) ([]int32, error) {
	vs, err := p.ints()
	if err != nil {
		return nil, err
	}
	if len(vs) != n {
		return nil, fmt.Errorf("encoding %v: want %d arguments, got %d", p.ID, n, len(vs))
	}
	return vs, nil
}

// NullParams returns the encoding of an absent data series.
func NullParams() Params { return Params{ID: Null} }

// ExternalParams returns an EXTERNAL encoding into content id.
func ExternalParams(contentID int32) Params {
	return Params{ID: External, Args: intArgs(contentID)}
}

// HuffmanParams returns a canonical Huffman encoding over the given alphabet.
func HuffmanParams(values, lengths []int32) Params {
	args := itf8.Append(nil, int32(len(values)))
	for _, v := range values {
		args = itf8.Append(args, v)
	}
	args = itf8.Append(args, int32(len(lengths)))
	for _, l := range lengths {
		args = itf8.Append(args, l)
	}
	return Params{ID: Huffman, Args: args}
}

// GolombParams returns a Golomb encoding with modulus m.
func GolombParams(offset, m int32) Params {
	return Params{ID: Golomb, Args: intArgs(offset, m)}
}

// GolombRiceParams returns a Golomb-Rice encoding with m = 2^log2m.
func GolombRiceParams(offset, log2m int32) Params {
	return Params{ID: GolombRice, Args: intArgs(offset, log2m)}
}

// GammaParams returns an Elias gamma encoding.
func GammaParams(offset int32) Params {
	return Params{ID: Gamma, Args: intArgs(offset)}
}

// BetaParams returns a fixed width encoding.
func BetaParams(offset, nbits int32) Params {
	return Params{ID: Beta, Args: intArgs(offset, nbits)}
}

// SubExpParams returns a sub-exponential encoding.
func SubExpParams(offset, k int32) Params {
	return Params{ID: SubExp, Args: intArgs(offset, k)}
}

// ByteArrayLenParams returns a length-prefixed byte array encoding.
func ByteArrayLenParams(length, value Params) Params {
	return Params{ID: ByteArrayLen, Args: value.Append(length.Append(nil))}
}

// ByteArrayStopParams returns a stop byte terminated array encoding into
// content id.
func ByteArrayStopParams(stop byte, contentID int32) Params {
	return Params{ID: ByteArrayStop, Args: itf8.Append([]byte{stop}, contentID)}
}

func (p Params) huffmanTable() (values, lengths []int32, err error) {
	r := bytes.NewReader(p.Args)
	readList := func() ([]int32, error) {
		n, err := itf8.Read(r)
		if err != nil {
			return nil, cramerr.Truncated(err)
		}
		if n < 0 || int(n) > r.Len() {
			return nil, fmt.Errorf("huffman: list of %d entries in %d bytes", n, r.Len())
		}
		out := make([]int32, n)
		for i := range out {
			if out[i], err = itf8.Read(r); err != nil {
				return nil, cramerr.Truncated(err)
			}
		}
		return out, nil
	}
	if values, err = readList(); err != nil {
		return nil, nil, err
	}
	if lengths, err = readList(); err != nil {
		return nil, nil, err
	}
	return values, lengths, nil
}

func (p Params) byteArrayLenParts() (length, value Params, err error) {
	r := bytes.NewReader(p.Args)
	if length, err = ReadParams(r); err != nil {
		return Params{}, Params{}, err
	}
	if value, err = ReadParams(r); err != nil {
		return Params{}, Params{}, err
	}
	return length, value, nil
}

func (p Params) byteArrayStopParts() (stop byte, contentID int32, err error) {
	if len(p.Args) < 2 {
		return 0, 0, fmt.Errorf("%w: byte array stop arguments", cramerr.ErrTruncated)
	}
	id, _, err := itf8.Decode(p.Args[1:])
	if err != nil {
		return 0, 0, cramerr.Truncated(err)
	}
	return p.Args[0], id, nil
}

// ContentIDs returns the external content ids the encoding reads from or
// writes to.
func (p Params) ContentIDs() []int32 {
	switch p.ID {
	case External:
		if vs, err := p.fixedInts(1); err == nil {
			return vs
		}
	case ByteArrayStop:
		if _, id, err := p.byteArrayStopParts(); err == nil {
			return []int32{id}
		}
	case ByteArrayLen:
		l, v, err := p.byteArrayLenParts()
		if err == nil {
			return append(l.ContentIDs(), v.ContentIDs()...)
		}
	}
	return nil
}
