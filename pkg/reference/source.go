// Package reference provides reference sequence bases to the transcoder: a
// Source interface with in-memory and indexed FASTA implementations, an
// immutable Window over one region and sliding coverage Tracks.
//
// Sources use 0-based half-open coordinates like biogo/hts/fai. Window and
// Tracks use the 1-based positions of CRAM records.
package reference

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/biogo/hts/fai"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// Source provides reference bases by sequence id.
type Source interface {
	// Bases returns the upper case bases [start, end) of sequence id.
	Bases(id int32, start, end int64) ([]byte, error)
	// Length returns the length of sequence id.
	Length(id int32) (int64, error)
}

// Sequence is a named reference sequence.
type Sequence struct {
	Name  string
	Bases []byte
}

// MemorySource serves sequences held in memory.
type MemorySource struct {
	seqs []Sequence
}

// NewMemorySource returns a source over seqs; sequence id i is seqs[i].
func NewMemorySource(seqs ...Sequence) *MemorySource {
	m := &MemorySource{seqs: make([]Sequence, len(seqs))}
	for i, s := range seqs {
		m.seqs[i] = Sequence{Name: s.Name, Bases: bytes.ToUpper(s.Bases)}
	}
	return m
}

// Bases implements Source.
func (m *MemorySource) Bases(id int32, start, end int64) ([]byte, error) {
	if id < 0 || int(id) >= len(m.seqs) {
		return nil, fmt.Errorf("%w: sequence %d", cramerr.ErrNoReference, id)
	}
	seq := m.seqs[id].Bases
	if start < 0 || end > int64(len(seq)) || start > end {
		return nil, fmt.Errorf("%w: [%d,%d) of %s (%d bases)", cramerr.ErrOutOfWindow, start, end, m.seqs[id].Name, len(seq))
	}
	return seq[start:end], nil
}

// Length implements Source.
func (m *MemorySource) Length(id int32) (int64, error) {
	if id < 0 || int(id) >= len(m.seqs) {
		return 0, fmt.Errorf("%w: sequence %d", cramerr.ErrNoReference, id)
	}
	return int64(len(m.seqs[id].Bases)), nil
}

// FaiSource reads bases from an indexed FASTA file. Sequence ids map to
// names through the list given at construction, normally the SAM header's
// reference order. Whole sequences are cached one at a time.
type FaiSource struct {
	file  *fai.File
	idx   fai.Index
	names []string

	mu       sync.Mutex
	cachedID int32
	cached   []byte
	closer   io.Closer
}

// NewFaiSource returns a source over fasta indexed by idx.
func NewFaiSource(fasta io.ReaderAt, idx fai.Index, names []string) *FaiSource {
	return &FaiSource{
		file:     fai.NewFile(fasta, idx),
		idx:      idx,
		names:    names,
		cachedID: -1,
	}
}

// OpenFai opens path and its path.fai index.
func OpenFai(path string, names []string) (*FaiSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference: %w", err)
	}
	ir, err := os.Open(path + ".fai")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open reference index: %w", err)
	}
	defer ir.Close()
	idx, err := fai.ReadFrom(ir)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read reference index: %w", err)
	}
	s := NewFaiSource(f, idx, names)
	s.closer = f
	return s, nil
}

// Close closes the FASTA file opened by OpenFai.
func (s *FaiSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *FaiSource) name(id int32) (string, error) {
	if id < 0 || int(id) >= len(s.names) {
		return "", fmt.Errorf("%w: sequence %d", cramerr.ErrNoReference, id)
	}
	name := s.names[id]
	if _, ok := s.idx[name]; !ok {
		return "", fmt.Errorf("%w: %s not in index", cramerr.ErrNoReference, name)
	}
	return name, nil
}

// Length implements Source.
func (s *FaiSource) Length(id int32) (int64, error) {
	name, err := s.name(id)
	if err != nil {
		return 0, err
	}
	return int64(s.idx[name].Length), nil
}

// Bases implements Source.
func (s *FaiSource) Bases(id int32, start, end int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedID != id {
		name, err := s.name(id)
		if err != nil {
			return nil, err
		}
		seq, err := s.file.SeqRange(name, 0, s.idx[name].Length)
		if err != nil {
			return nil, fmt.Errorf("failed to locate %s: %w", name, err)
		}
		bases, err := io.ReadAll(seq)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		s.cached, s.cachedID = bytes.ToUpper(bases), id
	}
	if start < 0 || end > int64(len(s.cached)) || start > end {
		return nil, fmt.Errorf("%w: [%d,%d) of %s (%d bases)", cramerr.ErrOutOfWindow, start, end, s.names[id], len(s.cached))
	}
	return s.cached[start:end], nil
}
