package reference

import (
	"fmt"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
)

// Tracks is a window of reference bases with per-position coverage and
// mismatch counters. It only moves forward: positions before the window
// start are gone once MoveForward has passed them.
type Tracks struct {
	src        Source
	id         int32
	length     int64
	start      int64
	bases      []byte
	coverage   []int32
	mismatches []int32
}

// NewTracks returns tracks over sequence id positioned at base 1.
func NewTracks(src Source, id int32) (*Tracks, error) {
	length, err := src.Length(id)
	if err != nil {
		return nil, err
	}
	return &Tracks{src: src, id: id, length: length, start: 1}, nil
}

// Start returns the 1-based position of the first tracked base.
func (t *Tracks) Start() int64 { return t.start }

// End returns the 1-based position of the last tracked base.
func (t *Tracks) End() int64 { return t.start + int64(len(t.bases)) - 1 }

// MoveForward drops every position before pos. Moving backwards is an
// error.
func (t *Tracks) MoveForward(pos int64) error {
	if pos < t.start {
		return fmt.Errorf("tracks cannot move back from %d to %d", t.start, pos)
	}
	drop := pos - t.start
	if drop >= int64(len(t.bases)) {
		t.bases, t.coverage, t.mismatches = t.bases[:0], t.coverage[:0], t.mismatches[:0]
	} else {
		n := copy(t.bases, t.bases[drop:])
		copy(t.coverage, t.coverage[drop:])
		copy(t.mismatches, t.mismatches[drop:])
		t.bases, t.coverage, t.mismatches = t.bases[:n], t.coverage[:n], t.mismatches[:n]
	}
	t.start = pos
	return nil
}

// Ensure loads bases up to 1-based end, clipped to the sequence length.
func (t *Tracks) Ensure(end int64) error {
	if end > t.length {
		end = t.length
	}
	cur := t.End()
	if end <= cur {
		return nil
	}
	more, err := t.src.Bases(t.id, cur, end)
	if err != nil {
		return fmt.Errorf("failed to extend tracks: %w", err)
	}
	t.bases = append(t.bases, more...)
	for range more {
		t.coverage = append(t.coverage, 0)
		t.mismatches = append(t.mismatches, 0)
	}
	return nil
}

func (t *Tracks) index(pos int64) (int, error) {
	if pos < t.start || pos > t.End() {
		return 0, fmt.Errorf("%w: %d outside tracks [%d,%d]", cramerr.ErrOutOfWindow, pos, t.start, t.End())
	}
	return int(pos - t.start), nil
}

// BaseAt returns the reference base at pos.
func (t *Tracks) BaseAt(pos int64) (byte, error) {
	i, err := t.index(pos)
	if err != nil {
		return 0, err
	}
	return t.bases[i], nil
}

// AddCoverage counts one more read over [pos, pos+n). Positions past the
// end of the sequence are ignored.
func (t *Tracks) AddCoverage(pos int64, n int) error {
	if n <= 0 {
		return nil
	}
	end := pos + int64(n) - 1
	if err := t.Ensure(end); err != nil {
		return err
	}
	if end > t.End() {
		end = t.End()
	}
	for p := pos; p <= end; p++ {
		i, err := t.index(p)
		if err != nil {
			return err
		}
		t.coverage[i]++
	}
	return nil
}

// AddMismatch counts a mismatching base at pos.
func (t *Tracks) AddMismatch(pos int64) error {
	if err := t.Ensure(pos); err != nil {
		return err
	}
	i, err := t.index(pos)
	if err != nil {
		return err
	}
	t.mismatches[i]++
	return nil
}

// Coverage returns the number of reads counted over pos, zero outside the
// tracked range.
func (t *Tracks) Coverage(pos int64) int32 {
	i, err := t.index(pos)
	if err != nil {
		return 0
	}
	return t.coverage[i]
}

// Mismatches returns the number of mismatches counted at pos.
func (t *Tracks) Mismatches(pos int64) int32 {
	i, err := t.index(pos)
	if err != nil {
		return 0
	}
	return t.mismatches[i]
}
