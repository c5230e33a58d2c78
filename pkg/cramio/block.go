// Package cramio frames CRAM files: the file definition, the SAM header
// container, data containers with their slices and blocks, and the
// end-of-file container. Integers are ITF8/LTF8, blocks and container
// headers carry a CRC32.
package cramio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/itf8"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// appendBlock compresses b and appends its framed form to buf. Empty blocks
// and blocks that do not shrink are stored raw. b.CompressedSize is set.
func appendBlock(buf []byte, b *structure.Block, c *Compressor) ([]byte, error) {
	method := b.Method
	payload := b.Data
	if method != structure.Raw && len(b.Data) > 0 {
		z, err := c.Compress(method, b.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to compress %v block %d: %w", b.ContentType, b.ContentID, err)
		}
		if len(z) < len(b.Data) {
			payload = z
		} else {
			method = structure.Raw
		}
	} else {
		method = structure.Raw
	}
	b.Method = method
	b.CompressedSize = int32(len(payload))

	start := len(buf)
	buf = append(buf, byte(method), byte(b.ContentType))
	buf = itf8.Append(buf, b.ContentID)
	buf = itf8.Append(buf, int32(len(payload)))
	buf = itf8.Append(buf, b.RawSize())
	buf = append(buf, payload...)
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf[start:])), nil
}

// readBlock parses and inflates the block at the reader's position. data is
// the slice r reads from, used to checksum the block without copying.
func readBlock(r *bytes.Reader, data []byte, c *Compressor) (*structure.Block, error) {
	start := len(data) - r.Len()
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, cramerr.Truncated(err)
	}
	b := &structure.Block{
		Method:      structure.Method(head[0]),
		ContentType: structure.ContentType(head[1]),
	}
	var err error
	if b.ContentID, err = itf8.Read(r); err != nil {
		return nil, cramerr.Truncated(err)
	}
	if b.CompressedSize, err = itf8.Read(r); err != nil {
		return nil, cramerr.Truncated(err)
	}
	rawSize, err := itf8.Read(r)
	if err != nil {
		return nil, cramerr.Truncated(err)
	}
	if b.CompressedSize < 0 || rawSize < 0 {
		return nil, fmt.Errorf("%w: negative block size", cramerr.ErrMalformedHeader)
	}
	if int(b.CompressedSize)+4 > r.Len() {
		return nil, fmt.Errorf("%w: block of %d bytes, %d left", cramerr.ErrTruncated, b.CompressedSize, r.Len())
	}
	pos := len(data) - r.Len()
	payload := data[pos : pos+int(b.CompressedSize)]
	if _, err := r.Seek(int64(b.CompressedSize), io.SeekCurrent); err != nil {
		return nil, err
	}
	end := len(data) - r.Len()
	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, cramerr.Truncated(err)
	}
	if got, want := crc32.ChecksumIEEE(data[start:end]), binary.LittleEndian.Uint32(sum[:]); got != want {
		return nil, fmt.Errorf("%w: %v block %d crc %08x, stored %08x", cramerr.ErrChecksum, b.ContentType, b.ContentID, got, want)
	}
	if b.Data, err = c.Decompress(b.Method, payload, rawSize); err != nil {
		return nil, fmt.Errorf("failed to decompress %v block %d: %w", b.ContentType, b.ContentID, err)
	}
	return b, nil
}

// expectBlock reads a block and checks its content type.
func expectBlock(r *bytes.Reader, data []byte, c *Compressor, want structure.ContentType) (*structure.Block, error) {
	b, err := readBlock(r, data, c)
	if err != nil {
		return nil, err
	}
	if b.ContentType != want {
		return nil, fmt.Errorf("%w: got %v, want %v", cramerr.ErrContentType, b.ContentType, want)
	}
	return b, nil
}
