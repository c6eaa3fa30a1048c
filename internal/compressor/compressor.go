package compressor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDecode is returned when a file is not a valid or supported image.
	ErrDecode = errors.New("cannot decode image")
	// ErrEmptyFile is returned for zero-byte files, whose reduction is undefined.
	ErrEmptyFile = errors.New("file is empty")
	// ErrUnsupportedFormat is returned when no encoder exists for the file's format.
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// Error describes a failed compression of a single file.
type Error struct {
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CompressionResult describes the result of compressing a single file.
// Both sizes are measured on disk right before and after the rewrite.
type CompressionResult struct {
	File           string
	OriginalSize   int64
	CompressedSize int64
	Format         string
	HadEXIF        bool
	Duration       time.Duration
}

// ReductionPercentage returns the size reduction derived from the two sizes.
// It is negative when the file grew.
func (r CompressionResult) ReductionPercentage() float64 {
	p, err := ReductionPercentage(r.OriginalSize, r.CompressedSize)
	if err != nil {
		return 0
	}
	return p
}

// SavedBytes returns how many bytes the rewrite saved (negative if it grew).
func (r CompressionResult) SavedBytes() int64 {
	return r.OriginalSize - r.CompressedSize
}

// ReductionPercentage computes 100 - compressed*100/original.
// A zero original size is rejected with ErrEmptyFile instead of dividing by zero.
func ReductionPercentage(original, compressed int64) (float64, error) {
	if original <= 0 {
		return 0, ErrEmptyFile
	}
	return 100 - float64(compressed)*100/float64(original), nil
}

// Compressor defines the interface for image compression.
type Compressor interface {
	// Compress re-encodes the file at path in place with the given quality.
	// The original content is overwritten and cannot be recovered.
	Compress(ctx context.Context, path string, quality int) (CompressionResult, error)
}
