package cram

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/biogo/hts/fai"
	"github.com/biogo/hts/sam"

	"github.com/scttfrdmn/cram-go/pkg/reference"
)

// OpenReference opens the indexed FASTA at p, a local path or an S3 URI,
// with its index at p.fai. Sequence ids follow the references of h.
// Objects in S3 are downloaded into memory.
func OpenReference(ctx context.Context, p string, h *sam.Header) (reference.Source, io.Closer, error) {
	names := make([]string, 0, len(h.Refs()))
	for _, r := range h.Refs() {
		names = append(names, r.Name())
	}
	if !IsS3URI(p) {
		s, err := reference.OpenFai(p, names)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}

	dir, name := SplitPath(p)
	st, err := NewStorage(ctx, dir)
	if err != nil {
		return nil, nil, err
	}
	rawIdx, err := st.ReadFile(name + ".fai")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read reference index: %w", err)
	}
	idx, err := fai.ReadFrom(bytes.NewReader(rawIdx))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse reference index: %w", err)
	}
	fasta, err := st.ReadFile(name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read reference: %w", err)
	}
	s := reference.NewFaiSource(bytes.NewReader(fasta), idx, names)
	return s, s, nil
}
