package compressor

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp" // register the WebP decoder with image.Decode

	"image-compressor/internal/logger"
	"image-compressor/internal/metadata"
)

// ImageCompressor is the default implementation of the Compressor interface.
// It overwrites originals in place: there is no backup.
type ImageCompressor struct {
	logger    logrus.FieldLogger
	preserver metadata.Preserver
}

// Option configures an ImageCompressor.
type Option func(*ImageCompressor)

// WithLogger sets the logger used for per-file diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *ImageCompressor) { c.logger = l }
}

// WithPreserver copies JPEG metadata from the original onto the re-encoded file.
func WithPreserver(p metadata.Preserver) Option {
	return func(c *ImageCompressor) { c.preserver = p }
}

// NewImageCompressor creates a new ImageCompressor instance.
func NewImageCompressor(opts ...Option) *ImageCompressor {
	c := &ImageCompressor{logger: logger.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress decodes the image, drops its alpha channel, re-encodes it in its own format
// at the given quality and replaces the file.
func (c *ImageCompressor) Compress(ctx context.Context, path string, quality int) (CompressionResult, error) {
	start := time.Now()
	res := CompressionResult{File: path}
	log := logger.WithFileOperation(c.logger, path, "compress")

	if err := ctx.Err(); err != nil {
		return res, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return res, &Error{Path: path, Op: "stat", Err: err}
	}
	if !info.Mode().IsRegular() {
		return res, &Error{Path: path, Op: "stat", Err: fmt.Errorf("not a regular file")}
	}
	if info.Size() == 0 {
		return res, &Error{Path: path, Op: "stat", Err: ErrEmptyFile}
	}
	res.OriginalSize = info.Size()

	if metadata.IsJPEG(path) {
		if meta, err := metadata.Probe(path); err == nil && meta.HasEXIF {
			res.HadEXIF = true
			if c.preserver == nil {
				log.WithField("model", meta.Model).Debug("EXIF metadata will not be kept")
			}
		}
	}

	img, err := decode(path)
	if err != nil {
		return res, err
	}

	enc, err := encoderFor(path)
	if err != nil {
		return res, &Error{Path: path, Op: "encode", Err: err}
	}
	res.Format = enc.format

	if err := c.rewrite(path, info.Mode().Perm(), dropAlpha(img), enc, quality, res.HadEXIF); err != nil {
		return res, err
	}

	compInfo, err := os.Stat(path)
	if err != nil {
		return res, &Error{Path: path, Op: "stat", Err: err}
	}
	res.CompressedSize = compInfo.Size()
	res.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"format":          res.Format,
		"original_size":   res.OriginalSize,
		"compressed_size": res.CompressedSize,
		"duration":        res.Duration.String(),
	}).Debug("Image compressed")
	return res, nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, &Error{Path: path, Op: "decode", Err: fmt.Errorf("%w: %v", ErrDecode, err)}
	}
	return img, nil
}

// encoder writes an image in the format named by a file extension.
type encoder struct {
	format string
	jpeg   bool
	encode func(w io.Writer, img image.Image, quality int) error
}

// encoderFor picks the encoder for path. WebP goes through libwebp, everything
// else through imaging.
func encoderFor(path string) (encoder, error) {
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ".webp") {
		return encoder{format: "WEBP", encode: encodeWebP}, nil
	}
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return encoder{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return encoder{
		format: format.String(),
		jpeg:   format == imaging.JPEG,
		encode: func(w io.Writer, img image.Image, quality int) error {
			return imaging.Encode(w, img, format, imaging.JPEGQuality(quality))
		},
	}, nil
}

// encodeWebP writes lossy WebP at quality.
func encodeWebP(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
}

// dropAlpha returns an opaque copy, the equivalent of a 3-channel image.
// Color values are kept as they are; they are not composited onto a background.
func dropAlpha(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// rewrite encodes into a temp file next to path and renames it over the original.
func (c *ImageCompressor) rewrite(path string, perm os.FileMode, img image.Image, enc encoder, quality int, hadEXIF bool) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &Error{Path: path, Op: "write", Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	encErr := enc.encode(tmp, img, quality)
	closeErr := tmp.Close()
	if encErr != nil {
		return &Error{Path: path, Op: "encode", Err: encErr}
	}
	if closeErr != nil {
		return &Error{Path: path, Op: "write", Err: closeErr}
	}

	if hadEXIF && c.preserver != nil && enc.jpeg {
		if err := c.preserver.Preserve(path, tmpPath); err != nil {
			logger.WithFile(c.logger, path).Warnf("EXIF metadata not preserved: %v", err)
		}
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return &Error{Path: path, Op: "write", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &Error{Path: path, Op: "rename", Err: err}
	}
	committed = true
	return nil
}
