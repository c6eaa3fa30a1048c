package metadata

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/barasher/go-exiftool"
)

// Preserver copies metadata from an original image onto its re-encoded replacement.
type Preserver interface {
	Preserve(src, dst string) error
	Close() error
}

// preservedTags are the descriptive tags carried over. Structural tags (dimensions,
// thumbnails, maker notes) are left to the encoder.
var preservedTags = []string{
	"DateTimeOriginal",
	"CreateDate",
	"ModifyDate",
	"Make",
	"Model",
	"LensModel",
	"Artist",
	"Copyright",
	"ImageDescription",
	"Orientation",
	"GPSLatitude",
	"GPSLatitudeRef",
	"GPSLongitude",
	"GPSLongitudeRef",
	"GPSAltitude",
}

// ExiftoolPreserver copies EXIF tags with a long-running exiftool process.
// The process is started on first use.
type ExiftoolPreserver struct {
	once sync.Once
	et   *exiftool.Exiftool
	err  error
}

// NewExiftoolPreserver returns a preserver backed by the exiftool binary.
func NewExiftoolPreserver() *ExiftoolPreserver {
	return &ExiftoolPreserver{}
}

func (p *ExiftoolPreserver) tool() (*exiftool.Exiftool, error) {
	p.once.Do(func() {
		p.et, p.err = exiftool.NewExiftool()
		if p.err != nil {
			p.err = fmt.Errorf("start exiftool: %w", p.err)
		}
	})
	return p.et, p.err
}

// Preserve copies the preserved tag set from src onto dst.
func (p *ExiftoolPreserver) Preserve(src, dst string) error {
	et, err := p.tool()
	if err != nil {
		return err
	}

	files := et.ExtractMetadata(src)
	if len(files) == 0 {
		return errors.New("exiftool returned no metadata")
	}
	if files[0].Err != nil {
		return fmt.Errorf("read metadata: %w", files[0].Err)
	}

	out := exiftool.FileMetadata{File: dst, Fields: map[string]interface{}{}}
	copied := 0
	for _, tag := range preservedTags {
		val, err := files[0].GetString(tag)
		if err != nil || val == "" {
			continue
		}
		out.SetString(tag, val)
		copied++
	}
	if copied == 0 {
		return nil
	}

	batch := []exiftool.FileMetadata{out}
	et.WriteMetadata(batch)
	// exiftool leaves a backup unless told to overwrite in place.
	_ = os.Remove(dst + "_original")
	if batch[0].Err != nil {
		return fmt.Errorf("write metadata: %w", batch[0].Err)
	}
	return nil
}

// Close stops the exiftool process if it was started.
func (p *ExiftoolPreserver) Close() error {
	if p.et == nil {
		return nil
	}
	return p.et.Close()
}
