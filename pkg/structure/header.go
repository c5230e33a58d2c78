package structure

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/scttfrdmn/cram-go/pkg/cramerr"
	"github.com/scttfrdmn/cram-go/pkg/encoding"
	"github.com/scttfrdmn/cram-go/pkg/itf8"
)

// Preservation map keys
const (
	keyReadNames       = "RN"
	keyAPDelta         = "AP"
	keyRefRequired     = "RR"
	keyMatrix          = "SM"
	keyDictionary      = "TD"
	keyMappedQS        = "MI"
	keyUnmappedQS      = "UI"
	keyPlacedUnmapped  = "PI"
	tagDictionaryEntry = 3
)

// TagDictionary lists the distinct tag key combinations of a container. A
// record refers to its combination by index (the TL series).
type TagDictionary [][]TagKey

// Line returns the index of keys in d, adding it when absent.
func (d *TagDictionary) Line(keys []TagKey) int32 {
	for i, line := range *d {
		if equalKeys(line, keys) {
			return int32(i)
		}
	}
	*d = append(*d, append([]TagKey(nil), keys...))
	return int32(len(*d) - 1)
}

// Keys returns every distinct key used by the dictionary, ascending.
func (d TagDictionary) Keys() []TagKey {
	seen := make(map[TagKey]bool)
	var out []TagKey
	for _, line := range d {
		for _, k := range line {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalKeys(a, b []TagKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// appendTo writes each line as 3-byte entries followed by a zero byte.
func (d TagDictionary) appendTo(buf []byte) []byte {
	for _, line := range d {
		for _, k := range line {
			t := k.Tag()
			buf = append(buf, t[0], t[1], k.Type())
		}
		buf = append(buf, 0)
	}
	return buf
}

func parseTagDictionary(data []byte) (TagDictionary, error) {
	var d TagDictionary
	var line []TagKey
	for i := 0; i < len(data); {
		if data[i] == 0 {
			d = append(d, line)
			line = nil
			i++
			continue
		}
		if i+tagDictionaryEntry > len(data) {
			return nil, fmt.Errorf("%w: tag dictionary entry cut short", cramerr.ErrMalformedHeader)
		}
		line = append(line, NewTagKey([2]byte{data[i], data[i+1]}, data[i+2]))
		i += tagDictionaryEntry
	}
	if line != nil {
		return nil, fmt.Errorf("%w: unterminated tag dictionary line", cramerr.ErrMalformedHeader)
	}
	return d, nil
}

// CompressionHeader binds every data series and tag of one container to an
// encoding and records what the container preserves.
type CompressionHeader struct {
	ReadNamesIncluded bool
	APDelta           bool
	ReferenceRequired bool
	Matrix            SubstitutionMatrix
	Dictionary        TagDictionary

	MappedQualityIncluded         bool
	UnmappedQualityIncluded       bool
	PlacedUnmappedQualityIncluded bool

	Series map[DataSeries]encoding.Params
	Tags   map[TagKey]encoding.Params
}

// NewCompressionHeader returns a header with default preservation flags and
// empty encoding maps.
func NewCompressionHeader() *CompressionHeader {
	return &CompressionHeader{
		ReadNamesIncluded:             true,
		APDelta:                       true,
		ReferenceRequired:             true,
		Matrix:                        DefaultSubstitutionMatrix(),
		MappedQualityIncluded:         true,
		UnmappedQualityIncluded:       true,
		PlacedUnmappedQualityIncluded: true,
		Series:                        make(map[DataSeries]encoding.Params),
		Tags:                          make(map[TagKey]encoding.Params),
	}
}

// Encoding returns the encoding of key, NULL when the series is absent.
func (h *CompressionHeader) Encoding(key DataSeries) encoding.Params {
	if p, ok := h.Series[key]; ok {
		return p
	}
	return encoding.NullParams()
}

// ContentIDs returns the external content ids any encoding of h uses,
// ascending and without duplicates.
func (h *CompressionHeader) ContentIDs() []int32 {
	seen := make(map[int32]bool)
	var ids []int32
	add := func(p encoding.Params) {
		for _, id := range p.ContentIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for _, p := range h.Series {
		add(p)
	}
	for _, p := range h.Tags {
		add(p)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// appendMap frames a map body with its byte size and entry count.
func appendMap(buf []byte, count int, body []byte) []byte {
	inner := itf8.Append(nil, int32(count))
	inner = append(inner, body...)
	buf = itf8.Append(buf, int32(len(inner)))
	return append(buf, inner...)
}

// MarshalBinary encodes the preservation, data series and tag maps.
func (h *CompressionHeader) MarshalBinary() ([]byte, error) {
	var pres []byte
	n := 0
	addBool := func(key string, v bool) {
		pres = append(pres, key...)
		pres = appendBool(pres, v)
		n++
	}
	addBool(keyReadNames, h.ReadNamesIncluded)
	addBool(keyAPDelta, h.APDelta)
	addBool(keyRefRequired, h.ReferenceRequired)
	pres = append(pres, keyMatrix...)
	pres = append(pres, h.Matrix[:]...)
	n++
	td := h.Dictionary.appendTo(nil)
	pres = append(pres, keyDictionary...)
	pres = itf8.Append(pres, int32(len(td)))
	pres = append(pres, td...)
	n++
	addBool(keyMappedQS, h.MappedQualityIncluded)
	addBool(keyUnmappedQS, h.UnmappedQualityIncluded)
	addBool(keyPlacedUnmapped, h.PlacedUnmappedQualityIncluded)
	buf := appendMap(nil, n, pres)

	var series []byte
	n = 0
	for _, s := range SeriesTypes {
		p, ok := h.Series[s.Key]
		if !ok {
			continue
		}
		series = append(series, s.Key...)
		series = p.Append(series)
		n++
	}
	for key := range h.Series {
		if _, ok := TypeOf(key); !ok {
			return nil, fmt.Errorf("unknown data series %q", key)
		}
	}
	buf = appendMap(buf, n, series)

	keys := make([]TagKey, 0, len(h.Tags))
	for k := range h.Tags {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var tags []byte
	for _, k := range keys {
		tags = itf8.Append(tags, int32(k))
		tags = h.Tags[k].Append(tags)
	}
	return appendMap(buf, len(keys), tags), nil
}

// readMap returns a reader over the next map body and its entry count.
func readMap(r *bytes.Reader, name string) (*bytes.Reader, int, error) {
	size, err := itf8.Read(r)
	if err != nil {
		return nil, 0, cramerr.Truncated(err)
	}
	if size < 0 || int(size) > r.Len() {
		return nil, 0, fmt.Errorf("%w: %s map of %d bytes", cramerr.ErrTruncated, name, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, cramerr.Truncated(err)
	}
	br := bytes.NewReader(body)
	count, err := itf8.Read(br)
	if err != nil {
		return nil, 0, cramerr.Truncated(err)
	}
	if count < 0 {
		return nil, 0, fmt.Errorf("%w: %s map count %d", cramerr.ErrMalformedHeader, name, count)
	}
	return br, int(count), nil
}

func readKey(r *bytes.Reader) (string, error) {
	var k [2]byte
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return "", cramerr.Truncated(err)
	}
	return string(k[:]), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, cramerr.Truncated(err)
	}
	return b != 0, nil
}

// UnmarshalBinary decodes a header written by MarshalBinary.
func (h *CompressionHeader) UnmarshalBinary(data []byte) error {
	*h = *NewCompressionHeader()
	r := bytes.NewReader(data)

	pr, n, err := readMap(r, "preservation")
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		key, err := readKey(pr)
		if err != nil {
			return err
		}
		switch key {
		case keyReadNames:
			h.ReadNamesIncluded, err = readBool(pr)
		case keyAPDelta:
			h.APDelta, err = readBool(pr)
		case keyRefRequired:
			h.ReferenceRequired, err = readBool(pr)
		case keyMappedQS:
			h.MappedQualityIncluded, err = readBool(pr)
		case keyUnmappedQS:
			h.UnmappedQualityIncluded, err = readBool(pr)
		case keyPlacedUnmapped:
			h.PlacedUnmappedQualityIncluded, err = readBool(pr)
		case keyMatrix:
			if _, err = io.ReadFull(pr, h.Matrix[:]); err != nil {
				err = cramerr.Truncated(err)
			}
		case keyDictionary:
			var size int32
			if size, err = itf8.Read(pr); err != nil {
				return cramerr.Truncated(err)
			}
			if size < 0 || int(size) > pr.Len() {
				return fmt.Errorf("%w: tag dictionary of %d bytes", cramerr.ErrTruncated, size)
			}
			td := make([]byte, size)
			if _, err = io.ReadFull(pr, td); err != nil {
				return cramerr.Truncated(err)
			}
			h.Dictionary, err = parseTagDictionary(td)
		default:
			return fmt.Errorf("%w: unknown preservation key %q", cramerr.ErrMalformedHeader, key)
		}
		if err != nil {
			return fmt.Errorf("failed to read preservation entry %s: %w", key, err)
		}
	}

	sr, n, err := readMap(r, "data series")
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		key, err := readKey(sr)
		if err != nil {
			return err
		}
		if _, ok := TypeOf(DataSeries(key)); !ok {
			return fmt.Errorf("%w: unknown data series %q", cramerr.ErrMalformedHeader, key)
		}
		p, err := encoding.ReadParams(sr)
		if err != nil {
			return fmt.Errorf("failed to read encoding of %s: %w", key, err)
		}
		h.Series[DataSeries(key)] = p
	}

	tr, n, err := readMap(r, "tag")
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		k, err := itf8.Read(tr)
		if err != nil {
			return cramerr.Truncated(err)
		}
		p, err := encoding.ReadParams(tr)
		if err != nil {
			return fmt.Errorf("failed to read encoding of tag %v: %w", TagKey(k), err)
		}
		h.Tags[TagKey(k)] = p
	}
	return nil
}
