package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Info is the subset of EXIF metadata the compressor reports on.
type Info struct {
	HasEXIF  bool
	Model    string
	Software string
	Taken    time.Time
}

// Probe reads EXIF metadata from an image file.
// Files without EXIF yield an Info with HasEXIF false and no error.
func Probe(filePath string) (*Info, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return &Info{}, nil
	}

	info := &Info{HasEXIF: true}
	if tm, err := x.DateTime(); err == nil {
		info.Taken = tm
	}
	info.Model = stringTag(x, exif.Model)
	info.Software = stringTag(x, exif.Software)
	return info, nil
}

// IsJPEG reports whether the path has a JPEG extension, the only format EXIF is carried over for.
func IsJPEG(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return ext == ".jpg" || ext == ".jpeg"
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(val)
}
