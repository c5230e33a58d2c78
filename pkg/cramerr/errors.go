// Package cramerr holds the error values shared by the CRAM packages.
//
// Errors fall into four groups. Format errors (bad magic, unknown encoding,
// unsupported compression method, content type mismatch, checksum) abort the
// file. Structural errors (missing external block, landmark mismatch, read
// feature order) abort the enclosing slice. Reference errors signal a wrong or
// short reference. ErrTruncated marks end of stream inside a unit.
package cramerr

import (
	"errors"
	"fmt"
	"io"
)

// Format errors
var (
	ErrBadMagic           = errors.New("cram: bad magic")
	ErrUnsupportedVersion = errors.New("cram: unsupported version")
	ErrUnknownEncoding    = errors.New("cram: unknown encoding")
	ErrUnsupportedMethod  = errors.New("cram: unsupported compression method")
	ErrContentType        = errors.New("cram: unexpected block content type")
	ErrChecksum           = errors.New("cram: checksum mismatch")
	ErrUnsupportedType    = errors.New("cram: encoding does not support value type")
	ErrMalformedHeader    = errors.New("cram: malformed header")
	ErrMultipleReferences = errors.New("cram: multi-reference slices are not supported")
)

// Structural errors
var (
	ErrMissingBlock  = errors.New("cram: missing external block")
	ErrLandmarks     = errors.New("cram: landmarks do not match container blocks")
	ErrFeatureOrder  = errors.New("cram: read features out of order")
	ErrFeatureBounds = errors.New("cram: read feature outside read")
	ErrRecordCount   = errors.New("cram: record count mismatch")
)

// Reference errors
var (
	ErrOutOfWindow  = errors.New("cram: reference offset outside loaded window")
	ErrReferenceMD5 = errors.New("cram: reference md5 mismatch")
	ErrNoReference  = errors.New("cram: reference sequence not available")
)

// ErrTruncated is returned when the stream ends inside a container, slice,
// block or value.
var ErrTruncated = errors.New("cram: truncated stream")

// Truncated maps io.EOF and io.ErrUnexpectedEOF onto ErrTruncated and returns
// any other error unchanged.
func Truncated(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}

// IsFormat reports whether err is a format error, after which no further
// container in the stream can be trusted.
func IsFormat(err error) bool {
	for _, e := range []error{ErrBadMagic, ErrUnsupportedVersion, ErrUnknownEncoding,
		ErrUnsupportedMethod, ErrContentType, ErrChecksum, ErrUnsupportedType, ErrMalformedHeader, ErrMultipleReferences} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// SliceError identifies the slice a structural or reference error came from.
type SliceError struct {
	Container int
	Slice     int
	Err       error
}

func (e *SliceError) Error() string {
	return fmt.Sprintf("container %d slice %d: %v", e.Container, e.Slice, e.Err)
}

func (e *SliceError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is confined to one container, so that
// reading may go on with the next: a structural or reference error, or any
// non-format error inside a slice.
func IsRecoverable(err error) bool {
	if err == nil || IsFormat(err) || errors.Is(err, ErrNoReference) {
		return false
	}
	var se *SliceError
	if errors.As(err, &se) {
		return true
	}
	for _, e := range []error{ErrMissingBlock, ErrLandmarks, ErrFeatureOrder, ErrFeatureBounds,
		ErrRecordCount, ErrOutOfWindow, ErrReferenceMD5} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
