package reference

import (
	"crypto/md5"
	"fmt"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// Window is a loaded run of reference bases for one sequence.
type Window struct {
	SequenceID int32
	Start      int64 // 1-based position of the first base
	bases      []byte
}

// NewWindow returns a window whose first base sits at 1-based start.
func NewWindow(id int32, start int64, bases []byte) *Window {
	return &Window{SequenceID: id, Start: start, bases: bases}
}

// Load reads the 1-based inclusive range [start, end] of sequence id from
// src, clipped to the sequence length.
func Load(src Source, id int32, start, end int64) (*Window, error) {
	if start < 1 {
		start = 1
	}
	length, err := src.Length(id)
	if err != nil {
		return nil, err
	}
	if end > length {
		end = length
	}
	if end < start {
		return NewWindow(id, start, nil), nil
	}
	bases, err := src.Bases(id, start-1, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference window: %w", err)
	}
	return NewWindow(id, start, bases), nil
}

// End returns the 1-based position of the last base.
func (w *Window) End() int64 { return w.Start + int64(len(w.bases)) - 1 }

// Contains reports whether [start, end] lies inside the window.
func (w *Window) Contains(start, end int64) bool {
	return start >= w.Start && end <= w.End()
}

// BaseAt returns the base at 1-based pos.
func (w *Window) BaseAt(pos int64) (byte, error) {
	if w == nil || pos < w.Start || pos > w.End() {
		return 0, w.outside(pos, pos)
	}
	return w.bases[pos-w.Start], nil
}

// Range returns the bases of [start, end].
func (w *Window) Range(start, end int64) ([]byte, error) {
	if end < start {
		return nil, nil
	}
	if w == nil || !w.Contains(start, end) {
		return nil, w.outside(start, end)
	}
	return w.bases[start-w.Start : end-w.Start+1], nil
}

// MD5 returns the digest of the bases of [start, end].
func (w *Window) MD5(start, end int64) ([16]byte, error) {
	b, err := w.Range(start, end)
	if err != nil {
		return [16]byte{}, err
	}
	return md5.Sum(b), nil
}

func (w *Window) outside(start, end int64) error {
	if w == nil {
		return fmt.Errorf("%w: [%d,%d] with no reference loaded", cramerr.ErrOutOfWindow, start, end)
	}
	return fmt.Errorf("%w: [%d,%d] outside sequence %d [%d,%d]", cramerr.ErrOutOfWindow, start, end, w.SequenceID, w.Start, w.End())
}

// Bases implements Source over the loaded range, so Tracks can slide over
// a window.
func (w *Window) Bases(id int32, start, end int64) ([]byte, error) {
	if w == nil || id != w.SequenceID {
		return nil, fmt.Errorf("%w: sequence %d", cramerr.ErrNoReference, id)
	}
	return w.Range(start+1, end)
}

// Length implements Source: the window ends where the known sequence ends.
func (w *Window) Length(id int32) (int64, error) {
	if w == nil || id != w.SequenceID {
		return 0, fmt.Errorf("%w: sequence %d", cramerr.ErrNoReference, id)
	}
	return w.End(), nil
}
