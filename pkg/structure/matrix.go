package structure

import (
	"sort"
)

// Bases in substitution matrix order.
var Bases = [5]byte{'A', 'C', 'G', 'T', 'N'}

// BaseIndex returns the substitution matrix index of base: A, C, G, T map to
// 0-3 (either case) and everything else to 4.
func BaseIndex(base byte) int {
	switch base {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	}
	return 4
}

// IsMatrixBase reports whether base is one of the upper case A, C, G, T, N
// the substitution matrix can produce.
func IsMatrixBase(base byte) bool {
	switch base {
	case 'A', 'C', 'G', 'T', 'N':
		return true
	}
	return false
}

// SubstitutionMatrix maps a (reference base, read base) pair to a two bit
// substitution code. Row r holds the codes of the four alternatives to
// Bases[r], in Bases order, most significant pair first.
type SubstitutionMatrix [5]byte

// alternatives returns the indices of the four bases other than ref.
func alternatives(ref int) [4]int {
	var alts [4]int
	n := 0
	for i := 0; i < 5; i++ {
		if i != ref {
			alts[n] = i
			n++
		}
	}
	return alts
}

// NewSubstitutionMatrix builds a matrix from observed change counts
// freq[ref][read]. For every reference base the most frequent change gets
// code 0; ties keep Bases order.
func NewSubstitutionMatrix(freq [5][5]int64) SubstitutionMatrix {
	var m SubstitutionMatrix
	for ref := 0; ref < 5; ref++ {
		alts := alternatives(ref)
		order := alts
		sort.SliceStable(order[:], func(i, j int) bool {
			return freq[ref][order[i]] > freq[ref][order[j]]
		})
		var codes [5]byte
		for code, alt := range order {
			codes[alt] = byte(code)
		}
		var row byte
		for _, alt := range alts {
			row = row<<2 | codes[alt]
		}
		m[ref] = row
	}
	return m
}

// DefaultSubstitutionMatrix assigns codes in Bases order.
func DefaultSubstitutionMatrix() SubstitutionMatrix {
	return NewSubstitutionMatrix([5][5]int64{})
}

// Code returns the substitution code turning ref into read. ok is false when
// read equals ref or either is not a matrix base.
func (m SubstitutionMatrix) Code(ref, read byte) (code byte, ok bool) {
	if !IsMatrixBase(read) {
		return 0, false
	}
	r, b := BaseIndex(ref), BaseIndex(read)
	if r == b {
		return 0, false
	}
	alts := alternatives(r)
	for i, alt := range alts {
		if alt == b {
			return m[r] >> uint(6-2*i) & 3, true
		}
	}
	return 0, false
}

// Base returns the read base for reference base ref and substitution code.
func (m SubstitutionMatrix) Base(ref byte, code byte) byte {
	r := BaseIndex(ref)
	alts := alternatives(r)
	for i, alt := range alts {
		if m[r]>>uint(6-2*i)&3 == code&3 {
			return Bases[alt]
		}
	}
	return 'N'
}
