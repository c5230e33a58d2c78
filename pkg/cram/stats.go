package cram

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/biogo/hts/sam"

	"github.com/scttfrdmn/cram-go/pkg/cramio"
	"github.com/scttfrdmn/cram-go/pkg/structure"
	"github.com/scttfrdmn/cram-go/pkg/transcode"
)

// Statistics summarises a CRAM stream without restoring records against a
// reference.
type Statistics struct {
	FileID         string        `json:"file_id"`
	References     int           `json:"references"`
	Containers     int           `json:"containers"`
	Slices         int           `json:"slices"`
	TotalReads     int64         `json:"total_reads"`
	MappedReads    int64         `json:"mapped_reads"`
	UnmappedReads  int64         `json:"unmapped_reads"`
	DuplicateReads int64         `json:"duplicate_reads"`
	TotalBases     int64         `json:"total_bases"`
	Blocks         []*BlockStats `json:"blocks"`
}

// BlockStats totals the blocks of one content id across all slices.
type BlockStats struct {
	ContentID       int32  `json:"content_id"`
	Content         string `json:"content"`
	Blocks          int    `json:"blocks"`
	RawBytes        int64  `json:"raw_bytes"`
	CompressedBytes int64  `json:"compressed_bytes"`
}

// CoreContentID is the key of core blocks in Statistics.Blocks.
const CoreContentID = -1

// ScanStatistics reads every container of a CRAM stream and counts its
// records and block sizes.
func ScanStatistics(r io.Reader) (*Statistics, error) {
	comp, err := cramio.NewCompressor(0)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	defer comp.Close()

	dec := cramio.NewDecoder(r, comp)
	fd, err := dec.ReadFileDefinition()
	if err != nil {
		return nil, err
	}
	text, err := dec.ReadSAMHeader()
	if err != nil {
		return nil, err
	}
	h, err := sam.NewHeader(text, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SAM header: %w", err)
	}

	stats := &Statistics{
		FileID:     fmt.Sprintf("%x", fd.ID),
		References: len(h.Refs()),
	}
	blocks := make(map[int32]*BlockStats)
	count := func(id int32, b *structure.Block) {
		bs, ok := blocks[id]
		if !ok {
			name := "core"
			if id != CoreContentID {
				name = structure.ContentName(id)
			}
			bs = &BlockStats{ContentID: id, Content: name}
			blocks[id] = bs
		}
		bs.Blocks++
		bs.RawBytes += int64(b.RawSize())
		bs.CompressedBytes += int64(b.CompressedSize)
	}

	tc := transcode.New(transcode.Config{Header: h})
	for {
		c, err := dec.ReadContainer()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		stats.Containers++
		for i, s := range c.Slices {
			stats.Slices++
			count(CoreContentID, s.Core)
			for id, b := range s.External {
				count(id, b)
			}
			recs, err := tc.DecodeSlice(c.Compression, s)
			if err != nil {
				return nil, fmt.Errorf("container %d slice %d: %w", stats.Containers-1, i, err)
			}
			for _, r := range recs {
				stats.TotalReads++
				stats.TotalBases += int64(r.ReadLength)
				if r.IsMapped() {
					stats.MappedReads++
				} else {
					stats.UnmappedReads++
				}
				if r.Flags&sam.Duplicate != 0 {
					stats.DuplicateReads++
				}
			}
		}
	}

	for _, bs := range blocks {
		stats.Blocks = append(stats.Blocks, bs)
	}
	sort.Slice(stats.Blocks, func(i, j int) bool {
		return stats.Blocks[i].ContentID < stats.Blocks[j].ContentID
	})
	return stats, nil
}

// WriteText prints the statistics for people.
func (s *Statistics) WriteText(w io.Writer) {
	fmt.Fprintf(w, "CRAM Statistics\n")
	fmt.Fprintf(w, "  File ID: %s\n", s.FileID)
	fmt.Fprintf(w, "  References: %d\n", s.References)
	fmt.Fprintf(w, "  Containers: %d\n", s.Containers)
	fmt.Fprintf(w, "  Slices: %d\n", s.Slices)
	fmt.Fprintf(w, "\nReads:\n")
	fmt.Fprintf(w, "  Total reads: %d\n", s.TotalReads)
	if s.TotalReads > 0 {
		fmt.Fprintf(w, "  Mapped reads: %d (%.2f%%)\n", s.MappedReads, float64(s.MappedReads)/float64(s.TotalReads)*100)
		fmt.Fprintf(w, "  Unmapped reads: %d (%.2f%%)\n", s.UnmappedReads, float64(s.UnmappedReads)/float64(s.TotalReads)*100)
	}
	fmt.Fprintf(w, "  Duplicate reads: %d\n", s.DuplicateReads)
	fmt.Fprintf(w, "  Total bases: %d\n", s.TotalBases)
	if len(s.Blocks) == 0 {
		return
	}
	fmt.Fprintf(w, "\nBlocks:\n")
	fmt.Fprintf(w, "  %-8s %8s %14s %14s %7s\n", "content", "blocks", "raw", "compressed", "ratio")
	for _, b := range s.Blocks {
		ratio := 0.0
		if b.CompressedBytes > 0 {
			ratio = float64(b.RawBytes) / float64(b.CompressedBytes)
		}
		fmt.Fprintf(w, "  %-8s %8d %14d %14d %6.2fx\n", b.Content, b.Blocks, b.RawBytes, b.CompressedBytes, ratio)
	}
}

// WriteJSON writes the statistics as indented JSON.
func (s *Statistics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
