// Package transcode converts between biogo/hts alignment records and CRAM
// records, and between CRAM records and the per-slice core and external
// streams.
//
// Writing runs ToCramRecords (CIGAR walk against a reference window, quality
// policy, mate linkage), BuildCompressionHeader over every slice of a
// container, then EncodeSlice. Reading runs DecodeSlice and then
// ToAlignmentRecords, which restores positions, bases, CIGAR, qualities,
// names and mate fields.
package transcode

import (
	"fmt"

	"github.com/biogo/hts/sam"

	"github.com/scttfrdmn/cram-go/pkg/structure"
)

// DefaultQuality fills the scores of bases with no stored score in a read
// that has some stored scores.
const DefaultQuality = 30

// MissingQuality marks an absent quality string.
const MissingQuality = 0xff

// DefaultNamePrefix starts generated read names.
const DefaultNamePrefix = "cram"

// Config holds the transcoding settings.
type Config struct {
	// Header supplies reference sequences and read groups.
	Header *sam.Header
	// Policy decides which quality scores are kept.
	Policy QualityPolicy
	// PreserveReadNames stores read names; otherwise names are generated on
	// decode.
	PreserveReadNames bool
	// NamePrefix starts generated names, DefaultNamePrefix when empty.
	NamePrefix string
}

// Transcoder converts records for one SAM header.
type Transcoder struct {
	cfg        Config
	refs       []*sam.Reference
	readGroups []*sam.ReadGroup
	rgIndex    map[string]int32
}

// New returns a transcoder for cfg.
func New(cfg Config) *Transcoder {
	if cfg.Policy == nil {
		cfg.Policy = PreserveAll{}
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = DefaultNamePrefix
	}
	t := &Transcoder{cfg: cfg, rgIndex: make(map[string]int32)}
	if cfg.Header != nil {
		t.refs = cfg.Header.Refs()
		t.readGroups = cfg.Header.RGs()
		for i, rg := range t.readGroups {
			t.rgIndex[rg.Name()] = int32(i)
		}
	}
	return t
}

// Config returns the transcoder settings.
func (t *Transcoder) Config() Config { return t.cfg }

func (t *Transcoder) reference(id int32) (*sam.Reference, error) {
	if id < 0 {
		return nil, nil
	}
	if int(id) >= len(t.refs) {
		return nil, fmt.Errorf("reference id %d not in header (%d references)", id, len(t.refs))
	}
	return t.refs[id], nil
}

func refID(r *sam.Reference) int32 {
	if r == nil {
		return structure.Unmapped
	}
	return int32(r.ID())
}

var rgTag = sam.NewTag("RG")
