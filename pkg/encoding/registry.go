package encoding

import (
	"fmt"

	"github.com/scttfrdmn/cram-go/pkg/codec"
	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// BuildInteger binds an integer-valued encoding to s. A nil s yields a codec
// usable only for BitsFor.
func BuildInteger[T codec.Integer](p Params, s *codec.Streams) (codec.Codec[T], error) {
	switch p.ID {
	case Null:
		return codec.NewNull[T](), nil
	case External:
		vs, err := p.fixedInts(1)
		if err != nil {
			return nil, err
		}
		return codec.NewExternal[T](s, vs[0])
	case Huffman:
		values, lengths, err := p.huffmanTable()
		if err != nil {
			return nil, err
		}
		return codec.NewHuffman[T](s, values, lengths)
	case Golomb:
		vs, err := p.fixedInts(2)
		if err != nil {
			return nil, err
		}
		return codec.NewGolomb[T](s, vs[0], vs[1])
	case GolombRice:
		vs, err := p.fixedInts(2)
		if err != nil {
			return nil, err
		}
		return codec.NewGolombRice[T](s, vs[0], vs[1])
	case Gamma:
		vs, err := p.fixedInts(1)
		if err != nil {
			return nil, err
		}
		return codec.NewGamma[T](s, vs[0])
	case Beta:
		vs, err := p.fixedInts(2)
		if err != nil {
			return nil, err
		}
		return codec.NewBeta[T](s, vs[0], vs[1])
	case SubExp:
		vs, err := p.fixedInts(2)
		if err != nil {
			return nil, err
		}
		return codec.NewSubExp[T](s, vs[0], vs[1])
	case ByteArrayLen, ByteArrayStop:
		return nil, fmt.Errorf("%w: %v for integer series", cramerr.ErrUnsupportedType, p.ID)
	}
	return nil, fmt.Errorf("%w: %d", cramerr.ErrUnknownEncoding, int32(p.ID))
}

// BuildByteArray binds a byte-array encoding to s.
func BuildByteArray(p Params, s *codec.Streams) (codec.Codec[[]byte], error) {
	switch p.ID {
	case Null:
		return codec.NewNull[[]byte](), nil
	case ByteArrayLen:
		lp, vp, err := p.byteArrayLenParts()
		if err != nil {
			return nil, err
		}
		length, err := BuildInteger[int32](lp, s)
		if err != nil {
			return nil, fmt.Errorf("failed to build array length codec: %w", err)
		}
		value, err := BuildInteger[byte](vp, s)
		if err != nil {
			return nil, fmt.Errorf("failed to build array value codec: %w", err)
		}
		return codec.NewByteArrayLen(length, value), nil
	case ByteArrayStop:
		stop, id, err := p.byteArrayStopParts()
		if err != nil {
			return nil, err
		}
		return codec.NewByteArrayStop(s, stop, id)
	}
	if p.ID.Valid() {
		return nil, fmt.Errorf("%w: %v for byte array series", cramerr.ErrUnsupportedType, p.ID)
	}
	return nil, fmt.Errorf("%w: %d", cramerr.ErrUnknownEncoding, int32(p.ID))
}
