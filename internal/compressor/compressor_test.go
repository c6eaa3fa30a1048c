package compressor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
)

func noisyImage(w, h int, alpha uint8) *image.NRGBA {
	rng := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: alpha,
			})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string, quality int) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, noisyImage(64, 64, 255), &jpeg.Options{Quality: quality}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writePNG(t *testing.T, path string, alpha uint8) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, noisyImage(16, 16, alpha)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.Size()
}

func TestReductionPercentage(t *testing.T) {
	tests := []struct {
		name       string
		original   int64
		compressed int64
		want       float64
		wantErr    error
	}{
		{"quarter smaller", 2000, 1500, 25, nil},
		{"unchanged", 1000, 1000, 0, nil},
		{"grew", 1000, 1200, -20, nil},
		{"emptied", 1000, 0, 100, nil},
		{"zero original", 0, 10, 0, ErrEmptyFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReductionPercentage(tt.original, tt.compressed)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ReductionPercentage(%d, %d) = %v, want %v", tt.original, tt.compressed, got, tt.want)
			}
		})
	}
}

func TestCompressionResultDerivedValues(t *testing.T) {
	r := CompressionResult{OriginalSize: 2000, CompressedSize: 1500}
	if r.ReductionPercentage() != 25 {
		t.Errorf("ReductionPercentage() = %v, want 25", r.ReductionPercentage())
	}
	if r.SavedBytes() != 500 {
		t.Errorf("SavedBytes() = %d, want 500", r.SavedBytes())
	}
	if (CompressionResult{}).ReductionPercentage() != 0 {
		t.Errorf("zero result should not divide by zero")
	}
}

func TestCompressJPEGInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	writeJPEG(t, path, 100)
	before := fileSize(t, path)

	res, err := NewImageCompressor().Compress(context.Background(), path, 40)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	after := fileSize(t, path)
	if res.File != path {
		t.Errorf("File = %q, want %q", res.File, path)
	}
	if res.OriginalSize != before || res.CompressedSize != after {
		t.Errorf("sizes = %d/%d, want measured %d/%d", res.OriginalSize, res.CompressedSize, before, after)
	}
	if after >= before {
		t.Errorf("quality 40 re-encode did not shrink a quality 100 JPEG: %d -> %d", before, after)
	}
	want := 100 - float64(after)*100/float64(before)
	if math.Abs(res.ReductionPercentage()-want) > 0 {
		t.Errorf("ReductionPercentage() = %v, want %v", res.ReductionPercentage(), want)
	}
	if res.Format != "JPEG" {
		t.Errorf("Format = %q, want JPEG", res.Format)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := jpeg.Decode(f); err != nil {
		t.Errorf("result is not a valid JPEG: %v", err)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

// Re-encoding an already re-encoded JPEG may still change its bytes.
// Compress is deliberately not idempotent; the second pass only has to succeed
// and report the sizes it measured.
func TestCompressIsNotIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.jpg")
	writeJPEG(t, path, 95)
	c := NewImageCompressor()

	if _, err := c.Compress(context.Background(), path, 85); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	mid := fileSize(t, path)
	res, err := c.Compress(context.Background(), path, 85)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.OriginalSize != mid || res.CompressedSize != fileSize(t, path) {
		t.Errorf("second pass sizes %d/%d do not match disk", res.OriginalSize, res.CompressedSize)
	}
}

func TestCompressPNGDropsAlpha(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.png")
	writePNG(t, path, 100)

	res, err := NewImageCompressor().Compress(context.Background(), path, 85)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Format != "PNG" {
		t.Errorf("Format = %q, want PNG", res.Format)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				t.Fatalf("pixel (%d,%d) alpha = %d, want opaque", x, y, a)
			}
		}
	}
}

func TestCompressKeepsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private.jpg")
	writeJPEG(t, path, 90)
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewImageCompressor().Compress(context.Background(), path, 70); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestCompressWebP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.webp")
	var buf bytes.Buffer
	if err := webp.Encode(&buf, noisyImage(64, 64, 255), &webp.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := NewImageCompressor().Compress(context.Background(), path, 40)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Format != "WEBP" {
		t.Errorf("Format = %q, want WEBP", res.Format)
	}
	if res.CompressedSize >= res.OriginalSize {
		t.Errorf("size %d -> %d, want smaller", res.OriginalSize, res.CompressedSize)
	}
	if res.CompressedSize != fileSize(t, path) {
		t.Errorf("CompressedSize = %d, file has %d bytes", res.CompressedSize, fileSize(t, path))
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("rewritten file does not decode: %v", err)
	}
	if format != "webp" || cfg.Width != 64 || cfg.Height != 64 {
		t.Errorf("decoded %s %dx%d, want webp 64x64", format, cfg.Width, cfg.Height)
	}
}

func TestCompressFailures(t *testing.T) {
	dir := t.TempDir()

	notImage := filepath.Join(dir, "fake.jpg")
	if err := os.WriteFile(notImage, []byte("definitely not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.png")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	heic := filepath.Join(dir, "actually-png.heic")
	writePNG(t, heic, 255)

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"corrupt image", notImage, ErrDecode},
		{"zero-byte file", empty, ErrEmptyFile},
		{"no encoder for extension", heic, ErrUnsupportedFormat},
		{"missing file", filepath.Join(dir, "missing.jpg"), os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before []byte
			if data, err := os.ReadFile(tt.path); err == nil {
				before = data
			}

			_, err := NewImageCompressor().Compress(context.Background(), tt.path, 85)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			var cerr *Error
			if !errors.As(err, &cerr) || cerr.Path != tt.path {
				t.Errorf("error %v is not a *Error for %s", err, tt.path)
			}

			if before != nil {
				after, err := os.ReadFile(tt.path)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(before, after) {
					t.Errorf("file content changed after failure")
				}
			}
		})
	}
}

func TestCompressCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	writeJPEG(t, path, 90)
	before := fileSize(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewImageCompressor().Compress(ctx, path, 50); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fileSize(t, path) != before {
		t.Errorf("file modified despite cancelled context")
	}
}

type fakePreserver struct {
	calls []string
}

func (f *fakePreserver) Preserve(src, dst string) error {
	f.calls = append(f.calls, src)
	return nil
}

func (f *fakePreserver) Close() error { return nil }

// withEXIF inserts a minimal APP1 EXIF segment after the JPEG SOI marker.
func withEXIF(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	value := []byte("Cam\x00")
	var tiff bytes.Buffer
	tiff.WriteString("II*\x00")
	binary.Write(&tiff, binary.LittleEndian, uint32(8))
	binary.Write(&tiff, binary.LittleEndian, uint16(1))
	binary.Write(&tiff, binary.LittleEndian, uint16(0x0110)) // Model
	binary.Write(&tiff, binary.LittleEndian, uint16(2))
	binary.Write(&tiff, binary.LittleEndian, uint32(len(value)))
	tiff.Write(value) // fits in the 4-byte value field
	binary.Write(&tiff, binary.LittleEndian, uint32(0))

	var out bytes.Buffer
	out.Write(data[:2])
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(2+6+tiff.Len()))
	out.WriteString("Exif\x00\x00")
	out.Write(tiff.Bytes())
	out.Write(data[2:])
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCompressPreservesMetadataForJPEG(t *testing.T) {
	dir := t.TempDir()
	jpg := filepath.Join(dir, "exif.jpg")
	writeJPEG(t, jpg, 90)
	withEXIF(t, jpg)
	pngPath := filepath.Join(dir, "plain.png")
	writePNG(t, pngPath, 255)

	p := &fakePreserver{}
	c := NewImageCompressor(WithPreserver(p))

	res, err := c.Compress(context.Background(), jpg, 80)
	if err != nil {
		t.Fatalf("Compress jpg: %v", err)
	}
	if !res.HadEXIF {
		t.Errorf("HadEXIF = false for JPEG with APP1 segment")
	}
	if _, err := c.Compress(context.Background(), pngPath, 80); err != nil {
		t.Fatalf("Compress png: %v", err)
	}
	if len(p.calls) != 1 || p.calls[0] != jpg {
		t.Errorf("preserver calls = %v, want only %s", p.calls, jpg)
	}
}
