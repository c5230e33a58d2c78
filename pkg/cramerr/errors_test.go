package cramerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncated(t *testing.T) {
	require.NoError(t, Truncated(nil))
	require.ErrorIs(t, Truncated(io.EOF), ErrTruncated)
	require.ErrorIs(t, Truncated(fmt.Errorf("block: %w", io.ErrUnexpectedEOF)), ErrTruncated)
	other := errors.New("disk")
	require.Equal(t, other, Truncated(other))
}

func TestClassification(t *testing.T) {
	checksum := fmt.Errorf("failed to read block: %w", ErrChecksum)
	require.True(t, IsFormat(checksum))
	require.False(t, IsRecoverable(checksum))
	require.False(t, IsRecoverable(&SliceError{Container: 1, Slice: 0, Err: checksum}))

	multi := &SliceError{Container: 0, Slice: 1, Err: ErrMultipleReferences}
	require.True(t, IsFormat(multi))
	require.False(t, IsRecoverable(multi))

	require.True(t, IsRecoverable(fmt.Errorf("%w: 2 slices, 3 landmarks", ErrLandmarks)))
	require.True(t, IsRecoverable(&SliceError{Container: 4, Slice: 2, Err: errors.New("bad record")}))
	require.False(t, IsRecoverable(&SliceError{Err: ErrNoReference}))
	require.False(t, IsRecoverable(Truncated(io.EOF)))
	require.False(t, IsRecoverable(nil))

	se := &SliceError{Container: 4, Slice: 2, Err: ErrFeatureOrder}
	require.Equal(t, "container 4 slice 2: cram: read features out of order", se.Error())
	require.ErrorIs(t, se, ErrFeatureOrder)
}
