package cramio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// emptyCompressionHeader is the body of the end-of-file container's
// compression header: three empty maps.
var emptyCompressionHeader = []byte{1, 0, 1, 0, 1, 0}

// Encoder writes a CRAM byte stream.
type Encoder struct {
	w          io.Writer
	compressor *Compressor
	method     structure.Method
	written    int64
}

// NewEncoder returns an encoder compressing core, external and compression
// header blocks with method.
func NewEncoder(w io.Writer, c *Compressor, method structure.Method) *Encoder {
	return &Encoder{w: w, compressor: c, method: method}
}

// Written returns the number of bytes written so far.
func (e *Encoder) Written() int64 { return e.written }

func (e *Encoder) write(buf []byte) error {
	n, err := e.w.Write(buf)
	e.written += int64(n)
	return err
}

// WriteFileDefinition writes the magic, version and file id.
func (e *Encoder) WriteFileDefinition(fd FileDefinition) error {
	if err := e.write(fd.appendTo(nil)); err != nil {
		return fmt.Errorf("failed to write file definition: %w", err)
	}
	return nil
}

// WriteSAMHeader writes the header container holding the SAM header text.
func (e *Encoder) WriteSAMHeader(text []byte) error {
	data := binary.LittleEndian.AppendUint32(nil, uint32(len(text)))
	data = append(data, text...)
	b := &structure.Block{Method: structure.Raw, ContentType: structure.FileHeaderContent, Data: data}
	body, err := appendBlock(nil, b, e.compressor)
	if err != nil {
		return err
	}
	h := &structure.ContainerHeader{
		Length:     int32(len(body)),
		BlockCount: 1,
	}
	if err := e.write(append(appendContainerHeader(nil, h), body...)); err != nil {
		return fmt.Errorf("failed to write SAM header container: %w", err)
	}
	return nil
}

// EncodeContainer frames c into bytes. It sets the container's length,
// block count and landmarks, every slice's block count and content ids, and
// the compressed size of every block.
func EncodeContainer(c *structure.Container, compressor *Compressor, method structure.Method) ([]byte, error) {
	if c.Compression == nil {
		return nil, errors.New("container without compression header")
	}
	ch, err := c.Compression.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal compression header: %w", err)
	}
	body, err := appendBlock(nil, &structure.Block{
		Method:      method,
		ContentType: structure.CompressionHeaderContent,
		Data:        ch,
	}, compressor)
	if err != nil {
		return nil, err
	}

	h := &c.Header
	h.BlockCount = 1
	h.Landmarks = h.Landmarks[:0]
	for _, s := range c.Slices {
		h.Landmarks = append(h.Landmarks, int32(len(body)))
		if s.Core == nil {
			s.Core = &structure.Block{ContentType: structure.CoreContent}
		}
		ids := make([]int32, 0, len(s.External))
		for id := range s.External {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		s.Header.ContentIDs = ids
		s.Header.BlockCount = int32(1 + len(ids))

		if body, err = appendBlock(body, &structure.Block{
			Method:      structure.Raw,
			ContentType: structure.SliceHeaderContent,
			Data:        marshalSliceHeader(&s.Header),
		}, compressor); err != nil {
			return nil, err
		}
		s.Core.ContentType = structure.CoreContent
		s.Core.Method = method
		if body, err = appendBlock(body, s.Core, compressor); err != nil {
			return nil, err
		}
		for _, id := range ids {
			b := s.External[id]
			b.ContentType = structure.ExternalContent
			b.ContentID = id
			b.Method = method
			if body, err = appendBlock(body, b, compressor); err != nil {
				return nil, err
			}
		}
		h.BlockCount += 2 + int32(len(ids))
	}
	h.Length = int32(len(body))
	return append(appendContainerHeader(nil, h), body...), nil
}

// WriteContainer frames and writes c and returns the bytes written.
func (e *Encoder) WriteContainer(c *structure.Container) (int, error) {
	buf, err := EncodeContainer(c, e.compressor, e.method)
	if err != nil {
		return 0, err
	}
	return len(buf), e.WriteRaw(buf)
}

// WriteRaw writes an already framed container.
func (e *Encoder) WriteRaw(buf []byte) error {
	if err := e.write(buf); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	return nil
}

// EOFContainer returns the framed end-of-file container.
func EOFContainer() []byte {
	b := &structure.Block{
		Method:      structure.Raw,
		ContentType: structure.CompressionHeaderContent,
		Data:        emptyCompressionHeader,
	}
	body, _ := appendBlock(nil, b, nil)
	h := &structure.ContainerHeader{
		Length:         int32(len(body)),
		SequenceID:     structure.Unmapped,
		AlignmentStart: structure.EOFAlignmentStart,
		BlockCount:     1,
	}
	return append(appendContainerHeader(nil, h), body...)
}

// WriteEOF writes the end-of-file container.
func (e *Encoder) WriteEOF() error {
	if err := e.write(EOFContainer()); err != nil {
		return fmt.Errorf("failed to write EOF container: %w", err)
	}
	return nil
}

// Decoder reads a CRAM byte stream.
type Decoder struct {
	r          *bufio.Reader
	compressor *Compressor
	containers int
	eof        bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader, c *Compressor) *Decoder {
	return &Decoder{r: bufio.NewReader(r), compressor: c}
}

// Containers returns the number of data containers read so far.
func (d *Decoder) Containers() int { return d.containers }

// ReadFileDefinition reads and checks the file prefix.
func (d *Decoder) ReadFileDefinition() (FileDefinition, error) {
	return readFileDefinition(d.r)
}

// ReadSAMHeader reads the header container and returns the SAM header text.
func (d *Decoder) ReadSAMHeader() ([]byte, error) {
	h, body, err := d.ReadRaw()
	if err != nil {
		if err == io.EOF {
			err = fmt.Errorf("%w: missing SAM header container", cramerr.ErrTruncated)
		}
		return nil, err
	}
	if h.BlockCount < 1 {
		return nil, fmt.Errorf("%w: SAM header container without blocks", cramerr.ErrMalformedHeader)
	}
	b, err := expectBlock(bytes.NewReader(body), body, d.compressor, structure.FileHeaderContent)
	if err != nil {
		return nil, fmt.Errorf("failed to read SAM header block: %w", err)
	}
	if len(b.Data) < 4 {
		return nil, fmt.Errorf("%w: SAM header block", cramerr.ErrTruncated)
	}
	n := binary.LittleEndian.Uint32(b.Data)
	if int64(n) > int64(len(b.Data)-4) {
		return nil, fmt.Errorf("%w: SAM header of %d bytes in block of %d", cramerr.ErrTruncated, n, len(b.Data)-4)
	}
	return b.Data[4 : 4+n], nil
}

// ReadRaw reads the next container header and its undecoded body. It
// returns io.EOF at a clean end of stream.
func (d *Decoder) ReadRaw() (*structure.ContainerHeader, []byte, error) {
	h, err := readContainerHeader(d.r)
	if err != nil {
		return nil, nil, err
	}
	body := make([]byte, h.Length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, nil, fmt.Errorf("failed to read container body: %w", cramerr.Truncated(err))
	}
	return h, body, nil
}

// ReadContainer reads and decodes the next data container. It returns
// io.EOF after the end-of-file container or at a clean end of stream.
// Structural errors inside a slice are returned as *cramerr.SliceError; the
// decoder is then positioned at the next container.
func (d *Decoder) ReadContainer() (*structure.Container, error) {
	if d.eof {
		return nil, io.EOF
	}
	h, body, err := d.ReadRaw()
	if err != nil {
		return nil, err
	}
	if h.IsEOF() {
		d.eof = true
		return nil, io.EOF
	}
	index := d.containers
	d.containers++
	return DecodeContainer(index, h, body, d.compressor)
}

// DecodeContainer decodes the compression header and every slice of a
// container body. index identifies the container in errors.
func DecodeContainer(index int, h *structure.ContainerHeader, body []byte, c *Compressor) (*structure.Container, error) {
	r := bytes.NewReader(body)
	chb, err := expectBlock(r, body, c, structure.CompressionHeaderContent)
	if err != nil {
		return nil, fmt.Errorf("failed to read compression header block: %w", err)
	}
	ch := new(structure.CompressionHeader)
	if err := ch.UnmarshalBinary(chb.Data); err != nil {
		return nil, fmt.Errorf("failed to parse compression header: %w", err)
	}
	out := &structure.Container{Header: *h, Compression: ch}

	var records int32
	blocks := int32(1)
	for i, landmark := range h.Landmarks {
		s, err := DecodeSlice(body, landmark, c)
		if err != nil {
			return out, &cramerr.SliceError{Container: index, Slice: i, Err: err}
		}
		records += s.Header.RecordCount
		blocks += s.Header.BlockCount + 1
		out.Slices = append(out.Slices, s)
	}
	// A landmark missing from the header leaves its slice's blocks uncounted.
	if blocks != h.BlockCount {
		return out, fmt.Errorf("%w: container says %d blocks, %d landmarks reach %d", cramerr.ErrLandmarks, h.BlockCount, len(h.Landmarks), blocks)
	}
	if records != h.RecordCount {
		return out, fmt.Errorf("%w: container says %d records, slices hold %d", cramerr.ErrRecordCount, h.RecordCount, records)
	}
	return out, nil
}

// DecodeSlice decodes the slice whose header block starts at landmark
// within a container body, without touching earlier slices.
func DecodeSlice(body []byte, landmark int32, c *Compressor) (*structure.Slice, error) {
	if landmark < 0 || int(landmark) >= len(body) {
		return nil, fmt.Errorf("%w: landmark %d outside container of %d bytes", cramerr.ErrLandmarks, landmark, len(body))
	}
	r := bytes.NewReader(body)
	if _, err := r.Seek(int64(landmark), io.SeekStart); err != nil {
		return nil, err
	}
	hb, err := expectBlock(r, body, c, structure.SliceHeaderContent)
	if err != nil {
		return nil, fmt.Errorf("failed to read slice header block: %w", err)
	}
	sh, err := unmarshalSliceHeader(hb.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse slice header: %w", err)
	}
	s := &structure.Slice{Header: *sh, External: make(map[int32]*structure.Block)}
	for i := int32(0); i < sh.BlockCount; i++ {
		b, err := readBlock(r, body, c)
		if err != nil {
			return nil, fmt.Errorf("failed to read slice block %d: %w", i, err)
		}
		switch b.ContentType {
		case structure.CoreContent:
			if s.Core != nil {
				return nil, fmt.Errorf("%w: second core block", cramerr.ErrContentType)
			}
			s.Core = b
		case structure.ExternalContent:
			s.External[b.ContentID] = b
		default:
			return nil, fmt.Errorf("%w: %v block inside slice", cramerr.ErrContentType, b.ContentType)
		}
	}
	if s.Core == nil {
		return nil, fmt.Errorf("%w: core block", cramerr.ErrMissingBlock)
	}
	for _, id := range sh.ContentIDs {
		if _, ok := s.External[id]; !ok {
			return nil, fmt.Errorf("%w: content id %d", cramerr.ErrMissingBlock, id)
		}
	}
	return s, nil
}
