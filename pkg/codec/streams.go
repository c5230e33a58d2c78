package codec

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/scttfrdmn/cram-go/pkg/bitio"
	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// Streams is the set of byte streams one slice is encoded into or decoded
// from: a single shared core bit stream and any number of external byte
// streams keyed by content id.
//
// A Streams value is either in write mode (NewWriteStreams) or read mode
// (NewReadStreams).
type Streams struct {
	coreIn      *bitio.Reader
	coreOut     *bitio.Writer
	externalIn  map[int32]*bytes.Reader
	externalOut map[int32]*bytes.Buffer
}

// NewWriteStreams returns empty streams ready for encoding.
func NewWriteStreams() *Streams {
	return &Streams{
		coreOut:     bitio.NewWriter(),
		externalOut: make(map[int32]*bytes.Buffer),
	}
}

// NewReadStreams returns streams over decoded block contents.
func NewReadStreams(core []byte, external map[int32][]byte) *Streams {
	s := &Streams{
		coreIn:     bitio.NewReader(core),
		externalIn: make(map[int32]*bytes.Reader, len(external)),
	}
	for id, data := range external {
		s.externalIn[id] = bytes.NewReader(data)
	}
	return s
}

// Writing reports whether the streams are in write mode.
func (s *Streams) Writing() bool { return s != nil && s.coreOut != nil }

// Core returns the encoded core stream.
func (s *Streams) Core() []byte {
	if s.coreOut == nil {
		return nil
	}
	return s.coreOut.Bytes()
}

// External returns the encoded external streams.
func (s *Streams) External() map[int32][]byte {
	out := make(map[int32][]byte, len(s.externalOut))
	for id, buf := range s.externalOut {
		out[id] = buf.Bytes()
	}
	return out
}

// ContentIDs returns the external content ids in ascending order.
func (s *Streams) ContentIDs() []int32 {
	var ids []int32
	if s.externalOut != nil {
		for id := range s.externalOut {
			ids = append(ids, id)
		}
	} else {
		for id := range s.externalIn {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Remaining returns the number of unread bytes in external stream id.
func (s *Streams) Remaining(id int32) int {
	if r, ok := s.externalIn[id]; ok {
		return r.Len()
	}
	return 0
}

// bindExternal checks that external stream id is available in the current
// mode, creating it when writing.
func (s *Streams) bindExternal(id int32) error {
	if s == nil {
		return nil
	}
	if s.externalOut != nil {
		if _, ok := s.externalOut[id]; !ok {
			s.externalOut[id] = new(bytes.Buffer)
		}
		return nil
	}
	if _, ok := s.externalIn[id]; !ok {
		return fmt.Errorf("%w: content id %d", cramerr.ErrMissingBlock, id)
	}
	return nil
}

func (s *Streams) in(id int32) (*bytes.Reader, error) {
	if s == nil || s.externalIn == nil {
		return nil, fmt.Errorf("codec: streams not open for reading")
	}
	r, ok := s.externalIn[id]
	if !ok {
		return nil, fmt.Errorf("%w: content id %d", cramerr.ErrMissingBlock, id)
	}
	return r, nil
}

func (s *Streams) out(id int32) (*bytes.Buffer, error) {
	if s == nil || s.externalOut == nil {
		return nil, fmt.Errorf("codec: streams not open for writing")
	}
	buf, ok := s.externalOut[id]
	if !ok {
		buf = new(bytes.Buffer)
		s.externalOut[id] = buf
	}
	return buf, nil
}

func (s *Streams) coreReader() (*bitio.Reader, error) {
	if s == nil || s.coreIn == nil {
		return nil, fmt.Errorf("codec: streams not open for reading")
	}
	return s.coreIn, nil
}

func (s *Streams) coreWriter() (*bitio.Writer, error) {
	if s == nil || s.coreOut == nil {
		return nil, fmt.Errorf("codec: streams not open for writing")
	}
	return s.coreOut, nil
}
