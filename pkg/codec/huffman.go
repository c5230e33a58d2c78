package codec

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/scttfrdmn/cram-go/pkg/bitio"
)

const maxHuffmanLength = 64

type huffmanCode struct {
	bits   uint64
	length int
}

// huffman is a canonical Huffman code. Codes are assigned in (length, value)
// order, so the table is fully determined by the code lengths.
type huffman struct {
	codes map[int64]huffmanCode

	// decoding tables indexed by code length
	symbols    []int64
	firstCode  [maxHuffmanLength + 1]uint64
	firstIndex [maxHuffmanLength + 1]int
	count      [maxHuffmanLength + 1]int
	maxLength  int
}

type huffmanSymbol struct {
	value  int64
	length int
}

func newHuffmanCoder(values, lengths []int32) (*huffman, error) {
	if len(values) != len(lengths) {
		return nil, fmt.Errorf("huffman: %d values but %d lengths", len(values), len(lengths))
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("huffman: empty alphabet")
	}
	syms := make([]huffmanSymbol, len(values))
	seen := make(map[int64]bool, len(values))
	for i, v := range values {
		l := int(lengths[i])
		if l < 0 || l > maxHuffmanLength {
			return nil, fmt.Errorf("huffman: invalid code length %d", l)
		}
		if seen[int64(v)] {
			return nil, fmt.Errorf("huffman: duplicate value %d", v)
		}
		seen[int64(v)] = true
		syms[i] = huffmanSymbol{value: int64(v), length: l}
	}
	sort.Slice(syms, func(i, j int) bool {
		if syms[i].length != syms[j].length {
			return syms[i].length < syms[j].length
		}
		return syms[i].value < syms[j].value
	})

	h := &huffman{codes: make(map[int64]huffmanCode, len(syms))}
	if len(syms) == 1 {
		h.codes[syms[0].value] = huffmanCode{length: syms[0].length}
		h.symbols = []int64{syms[0].value}
		h.count[syms[0].length] = 1
		h.maxLength = syms[0].length
		return h, nil
	}
	if syms[0].length == 0 {
		return nil, fmt.Errorf("huffman: zero length code in alphabet of %d", len(syms))
	}

	var code uint64
	prev := syms[0].length
	for i, s := range syms {
		if i > 0 {
			code = (code + 1) << uint(s.length-prev)
		}
		if s.length < 64 && code>>uint(s.length) != 0 {
			return nil, fmt.Errorf("huffman: code lengths oversubscribe the code space")
		}
		if h.count[s.length] == 0 {
			h.firstCode[s.length] = code
			h.firstIndex[s.length] = i
		}
		h.count[s.length]++
		h.codes[s.value] = huffmanCode{bits: code, length: s.length}
		h.symbols = append(h.symbols, s.value)
		prev = s.length
	}
	h.maxLength = prev
	return h, nil
}

func (h *huffman) read(r *bitio.Reader) (int64, error) {
	if h.maxLength == 0 {
		return h.symbols[0], nil
	}
	var code uint64
	for l := 1; l <= h.maxLength; l++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		code <<= 1
		if bit {
			code |= 1
		}
		if n := h.count[l]; n > 0 && code >= h.firstCode[l] && code-h.firstCode[l] < uint64(n) {
			return h.symbols[h.firstIndex[l]+int(code-h.firstCode[l])], nil
		}
	}
	return 0, fmt.Errorf("huffman: no symbol for code %b", code)
}

func (h *huffman) write(w *bitio.Writer, v int64) error {
	c, ok := h.codes[v]
	if !ok {
		return fmt.Errorf("%w: %d not in huffman alphabet", ErrValueRange, v)
	}
	w.WriteBits(c.bits, c.length)
	return nil
}

func (h *huffman) bits(v int64) int64 {
	c, ok := h.codes[v]
	if !ok {
		return -1
	}
	return int64(c.length)
}

// NewHuffman returns a canonical Huffman codec over the core stream for the
// given alphabet and code lengths.
func NewHuffman[T Integer](s *Streams, values, lengths []int32) (Codec[T], error) {
	h, err := newHuffmanCoder(values, lengths)
	if err != nil {
		return nil, err
	}
	return newCore[T](s, h), nil
}

// HuffmanLengths computes code lengths for the given value frequencies. The
// returned values are sorted ascending and lengths is parallel to them. A
// single symbol gets length 0.
func HuffmanLengths(freq map[int64]int64) (values, lengths []int32) {
	for v := range freq {
		values = append(values, int32(v))
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	lengths = make([]int32, len(values))
	if len(values) <= 1 {
		return values, lengths
	}

	// node i < len(values) is a leaf
	parent := make([]int, 0, 2*len(values))
	q := make(nodeQueue, 0, len(values))
	for i, v := range values {
		w := freq[int64(v)]
		if w < 1 {
			w = 1
		}
		q = append(q, hnode{weight: w, id: i})
		parent = append(parent, -1)
	}
	heap.Init(&q)
	for q.Len() > 1 {
		a := heap.Pop(&q).(hnode)
		b := heap.Pop(&q).(hnode)
		id := len(parent)
		parent = append(parent, -1)
		parent[a.id] = id
		parent[b.id] = id
		heap.Push(&q, hnode{weight: a.weight + b.weight, id: id})
	}
	for i := range values {
		depth := 0
		for p := parent[i]; p >= 0; p = parent[p] {
			depth++
		}
		lengths[i] = int32(depth)
	}
	return values, lengths
}

type hnode struct {
	weight int64
	id     int
}

type nodeQueue []hnode

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].weight != q[j].weight {
		return q[i].weight < q[j].weight
	}
	return q[i].id < q[j].id
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(hnode)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
