package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/scttfrdmn/cram-go/pkg/cram"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// openInput opens a local file, an S3 object, or stdin for "-".
func openInput(ctx context.Context, p string) (io.ReadCloser, error) {
	if p == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	r, err := cram.OpenPath(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return r, nil
}

// createOutput creates a local file, an S3 object, or stdout for "-". An
// existing output is only replaced with force.
func createOutput(ctx context.Context, p string, force bool) (io.WriteCloser, error) {
	if p == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	if !force {
		dir, name := cram.SplitPath(p)
		st, err := cram.NewStorage(ctx, dir)
		if err != nil {
			return nil, err
		}
		exists, err := st.Exists(name)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", p, err)
		}
		if exists {
			return nil, fmt.Errorf("%s already exists (use --force to replace it)", p)
		}
	}
	w, err := cram.CreatePath(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", p, err)
	}
	return w, nil
}
