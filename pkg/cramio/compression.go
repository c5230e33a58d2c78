package cramio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// Compressor compresses and inflates block contents. It is safe for
// concurrent use.
type Compressor struct {
	level   int
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a compressor. level follows gzip: 1 (fastest) to 9
// (best), anything else selects the default.
func NewCompressor(level int) (*Compressor, error) {
	zlevel := zstd.SpeedDefault
	switch {
	case level >= 1 && level <= 3:
		zlevel = zstd.SpeedFastest
	case level >= 7 && level <= 9:
		zlevel = zstd.SpeedBetterCompression
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zlevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if level < 1 || level > 9 {
		level = gzip.DefaultCompression
	}
	return &Compressor{
		level:   level,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Compress compresses data with method m.
func (c *Compressor) Compress(m structure.Method, data []byte) ([]byte, error) {
	switch m {
	case structure.Raw:
		return data, nil
	case structure.Gzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, c.level)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to compress block: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress block: %w", err)
		}
		return buf.Bytes(), nil
	case structure.Zstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	}
	return nil, fmt.Errorf("%w: %v", cramerr.ErrUnsupportedMethod, m)
}

// Decompress inflates data compressed with method m into rawSize bytes.
func (c *Compressor) Decompress(m structure.Method, data []byte, rawSize int32) ([]byte, error) {
	var out []byte
	switch m {
	case structure.Raw:
		out = data
	case structure.Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip block: %w", cramerr.Truncated(err))
		}
		defer zr.Close()
		out = make([]byte, 0, rawSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, fmt.Errorf("failed to inflate block: %w", cramerr.Truncated(err))
		}
		out = buf.Bytes()
	case structure.Zstd:
		var err error
		out, err = c.decoder.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("failed to inflate block: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %v", cramerr.ErrUnsupportedMethod, m)
	}
	if int32(len(out)) != rawSize {
		return nil, fmt.Errorf("%w: block holds %d bytes, header says %d", cramerr.ErrChecksum, len(out), rawSize)
	}
	return out, nil
}

// Close releases the zstd encoder and decoder.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
