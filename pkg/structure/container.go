package structure

import (
	"fmt"
)

// ContentType is the kind of data a block carries.
type ContentType byte

// Block content types
const (
	FileHeaderContent        ContentType = 0
	CompressionHeaderContent ContentType = 1
	SliceHeaderContent       ContentType = 2
	ExternalContent          ContentType = 4
	CoreContent              ContentType = 5
)

func (t ContentType) String() string {
	switch t {
	case FileHeaderContent:
		return "FILE_HEADER"
	case CompressionHeaderContent:
		return "COMPRESSION_HEADER"
	case SliceHeaderContent:
		return "SLICE_HEADER"
	case ExternalContent:
		return "EXTERNAL"
	case CoreContent:
		return "CORE"
	}
	return fmt.Sprintf("ContentType(%d)", byte(t))
}

// Method is a block compression method.
type Method byte

// Block compression methods. Zstd is not part of CRAM 3.0 and is only
// understood by this package.
const (
	Raw  Method = 0
	Gzip Method = 1
	Zstd Method = 0x80
)

func (m Method) String() string {
	switch m {
	case Raw:
		return "raw"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("Method(%d)", byte(m))
}

// Block is one framed byte buffer. Data always holds the uncompressed
// content; CompressedSize is set once the block has been written or read.
type Block struct {
	Method         Method
	ContentType    ContentType
	ContentID      int32
	Data           []byte
	CompressedSize int32
}

// RawSize returns the uncompressed content length.
func (b *Block) RawSize() int32 { return int32(len(b.Data)) }

// SliceHeader describes one slice.
type SliceHeader struct {
	SequenceID        int32
	AlignmentStart    int32
	AlignmentSpan     int32
	RecordCount       int32
	RecordCounter     int64
	BlockCount        int32
	ContentIDs        []int32
	EmbeddedReference int32
	ReferenceMD5      [16]byte
}

// Slice is a run of records sharing one reference context: a core block
// and external blocks keyed by content id.
type Slice struct {
	Header   SliceHeader
	Core     *Block
	External map[int32]*Block
}

// ExternalData returns the raw contents of every external block.
func (s *Slice) ExternalData() map[int32][]byte {
	out := make(map[int32][]byte, len(s.External))
	for id, b := range s.External {
		out[id] = b.Data
	}
	return out
}

// ContainerHeader describes one container. Landmarks hold, for every
// slice, the byte offset of its header block from the start of the
// container body.
type ContainerHeader struct {
	Length         int32
	SequenceID     int32
	AlignmentStart int32
	AlignmentSpan  int32
	RecordCount    int32
	RecordCounter  int64
	Bases          int64
	BlockCount     int32
	Landmarks      []int32
}

// Container is a compression header and the slices it governs.
type Container struct {
	Header      ContainerHeader
	Compression *CompressionHeader
	Slices      []*Slice
}

// EOFAlignmentStart is the alignment start of the end-of-file container.
const EOFAlignmentStart = 4542278

// IsEOF reports whether h is the end-of-file marker.
func (h *ContainerHeader) IsEOF() bool {
	return h.RecordCount == 0 && h.SequenceID == Unmapped && h.AlignmentStart == EOFAlignmentStart
}
