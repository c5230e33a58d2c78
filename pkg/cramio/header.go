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

// File definition constants
const (
	Magic        = "CRAM"
	MajorVersion = 3
	MinorVersion = 0
	FileIDLength = 20
)

// FileDefinition is the fixed 26 byte file prefix.
type FileDefinition struct {
	Major byte
	Minor byte
	ID    [FileIDLength]byte
}

// NewFileDefinition returns a version 3.0 definition with the given id,
// truncated or zero padded to 20 bytes.
func NewFileDefinition(id []byte) FileDefinition {
	fd := FileDefinition{Major: MajorVersion, Minor: MinorVersion}
	copy(fd.ID[:], id)
	return fd
}

func (fd FileDefinition) appendTo(buf []byte) []byte {
	buf = append(buf, Magic...)
	buf = append(buf, fd.Major, fd.Minor)
	return append(buf, fd.ID[:]...)
}

func readFileDefinition(r io.Reader) (FileDefinition, error) {
	var buf [len(Magic) + 2 + FileIDLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FileDefinition{}, cramerr.Truncated(err)
	}
	if string(buf[:len(Magic)]) != Magic {
		return FileDefinition{}, fmt.Errorf("%w: %q", cramerr.ErrBadMagic, buf[:len(Magic)])
	}
	fd := FileDefinition{Major: buf[4], Minor: buf[5]}
	if fd.Major != MajorVersion {
		return FileDefinition{}, fmt.Errorf("%w: %d.%d", cramerr.ErrUnsupportedVersion, fd.Major, fd.Minor)
	}
	copy(fd.ID[:], buf[6:])
	return fd, nil
}

// appendContainerHeader appends h followed by its CRC32.
func appendContainerHeader(buf []byte, h *structure.ContainerHeader) []byte {
	start := len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Length))
	buf = itf8.Append(buf, h.SequenceID)
	buf = itf8.Append(buf, h.AlignmentStart)
	buf = itf8.Append(buf, h.AlignmentSpan)
	buf = itf8.Append(buf, h.RecordCount)
	buf = itf8.AppendLong(buf, h.RecordCounter)
	buf = itf8.AppendLong(buf, h.Bases)
	buf = itf8.Append(buf, h.BlockCount)
	buf = itf8.Append(buf, int32(len(h.Landmarks)))
	for _, l := range h.Landmarks {
		buf = itf8.Append(buf, l)
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf[start:]))
}

// recordingReader remembers every byte read so a header can be checksummed
// after it has been parsed from a stream.
type recordingReader struct {
	r    io.ByteReader
	seen []byte
}

func (r *recordingReader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err == nil {
		r.seen = append(r.seen, b)
	}
	return b, err
}

// readContainerHeader reads a container header. A clean end of stream
// before the first byte is returned as io.EOF.
func readContainerHeader(br io.ByteReader) (*structure.ContainerHeader, error) {
	r := &recordingReader{r: br}
	var length [4]byte
	for i := range length {
		b, err := r.ReadByte()
		if err != nil {
			if i == 0 && err == io.EOF {
				return nil, io.EOF
			}
			return nil, cramerr.Truncated(err)
		}
		length[i] = b
	}
	h := &structure.ContainerHeader{Length: int32(binary.LittleEndian.Uint32(length[:]))}
	if h.Length < 0 {
		return nil, fmt.Errorf("%w: container length %d", cramerr.ErrMalformedHeader, h.Length)
	}
	var err error
	ints := []*int32{&h.SequenceID, &h.AlignmentStart, &h.AlignmentSpan, &h.RecordCount}
	for _, p := range ints {
		if *p, err = itf8.Read(r); err != nil {
			return nil, cramerr.Truncated(err)
		}
	}
	if h.RecordCounter, err = itf8.ReadLong(r); err != nil {
		return nil, cramerr.Truncated(err)
	}
	if h.Bases, err = itf8.ReadLong(r); err != nil {
		return nil, cramerr.Truncated(err)
	}
	if h.BlockCount, err = itf8.Read(r); err != nil {
		return nil, cramerr.Truncated(err)
	}
	n, err := itf8.Read(r)
	if err != nil {
		return nil, cramerr.Truncated(err)
	}
	if n < 0 || n > h.Length {
		return nil, fmt.Errorf("%w: %d landmarks", cramerr.ErrMalformedHeader, n)
	}
	h.Landmarks = make([]int32, n)
	for i := range h.Landmarks {
		if h.Landmarks[i], err = itf8.Read(r); err != nil {
			return nil, cramerr.Truncated(err)
		}
	}
	want := crc32.ChecksumIEEE(r.seen)
	var sum [4]byte
	for i := range sum {
		if sum[i], err = br.ReadByte(); err != nil {
			return nil, cramerr.Truncated(err)
		}
	}
	if got := binary.LittleEndian.Uint32(sum[:]); got != want {
		return nil, fmt.Errorf("%w: container header crc %08x, computed %08x", cramerr.ErrChecksum, got, want)
	}
	return h, nil
}

func marshalSliceHeader(h *structure.SliceHeader) []byte {
	buf := itf8.Append(nil, h.SequenceID)
	buf = itf8.Append(buf, h.AlignmentStart)
	buf = itf8.Append(buf, h.AlignmentSpan)
	buf = itf8.Append(buf, h.RecordCount)
	buf = itf8.AppendLong(buf, h.RecordCounter)
	buf = itf8.Append(buf, h.BlockCount)
	buf = itf8.Append(buf, int32(len(h.ContentIDs)))
	for _, id := range h.ContentIDs {
		buf = itf8.Append(buf, id)
	}
	buf = itf8.Append(buf, h.EmbeddedReference)
	return append(buf, h.ReferenceMD5[:]...)
}

func unmarshalSliceHeader(data []byte) (*structure.SliceHeader, error) {
	r := bytes.NewReader(data)
	h := &structure.SliceHeader{}
	var err error
	ints := []*int32{&h.SequenceID, &h.AlignmentStart, &h.AlignmentSpan, &h.RecordCount}
	for _, p := range ints {
		if *p, err = itf8.Read(r); err != nil {
			return nil, cramerr.Truncated(err)
		}
	}
	if h.RecordCounter, err = itf8.ReadLong(r); err != nil {
		return nil, cramerr.Truncated(err)
	}
	if h.BlockCount, err = itf8.Read(r); err != nil {
		return nil, cramerr.Truncated(err)
	}
	n, err := itf8.Read(r)
	if err != nil {
		return nil, cramerr.Truncated(err)
	}
	if n < 0 || int(n) > r.Len() {
		return nil, fmt.Errorf("%w: %d content ids", cramerr.ErrMalformedHeader, n)
	}
	h.ContentIDs = make([]int32, n)
	for i := range h.ContentIDs {
		if h.ContentIDs[i], err = itf8.Read(r); err != nil {
			return nil, cramerr.Truncated(err)
		}
	}
	if h.EmbeddedReference, err = itf8.Read(r); err != nil {
		return nil, cramerr.Truncated(err)
	}
	if _, err := io.ReadFull(r, h.ReferenceMD5[:]); err != nil {
		return nil, cramerr.Truncated(err)
	}
	return h, nil
}
