package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"image-compressor/internal/compressor"
	"image-compressor/internal/config"
	"image-compressor/internal/logger"
	"image-compressor/internal/statistics"
)

// ErrNotFound is returned when the root directory does not exist.
var ErrNotFound = errors.New("directory not found")

// FailurePolicy decides what a per-file compression failure does to the scan.
type FailurePolicy string

const (
	// SkipAndContinue records the failure and moves on to the next file.
	SkipAndContinue FailurePolicy = config.OnErrorSkip
	// Abort stops the scan at the first failure and returns it.
	Abort FailurePolicy = config.OnErrorAbort
)

// DefaultExtensions is the extension set used when none is given.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Options controls one scan.
type Options struct {
	Quality    int
	Extensions []string
	Policy     FailurePolicy
}

// Failure is a matched file that could not be compressed.
type Failure struct {
	File string
	Err  error
}

// ResultSet holds the outcome of one scan, in traversal order.
type ResultSet struct {
	Results  []compressor.CompressionResult
	Failures []Failure
}

// Empty reports whether no file was compressed.
func (rs *ResultSet) Empty() bool {
	return rs == nil || len(rs.Results) == 0
}

// Scanner walks a directory tree and compresses every matching file.
type Scanner struct {
	compressor compressor.Compressor
	logger     logrus.FieldLogger
	stats      *statistics.Statistics
}

// New returns a Scanner. A nil stats gets a fresh Statistics.
func New(c compressor.Compressor, log logrus.FieldLogger, stats *statistics.Statistics) *Scanner {
	if log == nil {
		log = logger.Discard()
	}
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	return &Scanner{compressor: c, logger: log, stats: stats}
}

// Stats returns the statistics the scanner updates.
func (s *Scanner) Stats() *statistics.Statistics {
	return s.stats
}

// Scan compresses every file under root whose name matches an extension.
// No matches yields an empty ResultSet, not an error.
func (s *Scanner) Scan(ctx context.Context, root string, opts Options) (*ResultSet, error) {
	paths, err := s.Discover(ctx, root, opts.Extensions)
	if err != nil {
		return nil, err
	}

	set := &ResultSet{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := s.compressor.Compress(ctx, path, opts.Quality)
		if err != nil {
			if opts.Policy == Abort || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("compress %s: %w", path, err)
			}
			logger.WithFileOperation(s.logger, path, "compress").Warnf("Skipping file: %v", err)
			s.stats.AddError(path, "compress", err.Error())
			set.Failures = append(set.Failures, Failure{File: path, Err: err})
			continue
		}

		logger.WithFileOperation(s.logger, path, "compress").WithFields(logrus.Fields{
			"format":      res.Format,
			"saved_bytes": res.SavedBytes(),
			"reduction":   fmt.Sprintf("%.2f%%", res.ReductionPercentage()),
		}).Info("File compressed")
		s.stats.RecordCompressed(res.OriginalSize, res.CompressedSize)
		set.Results = append(set.Results, res)
	}

	return set, nil
}

// Discover returns the files under root matching the extensions, in walk order,
// without touching them. Symlinks below root are neither followed nor returned.
func (s *Scanner) Discover(ctx context.Context, root string, extensions []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	exts := config.NormalizeExtensions(extensions)
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	// A symlinked root is followed; a trailing separator makes WalkDir resolve it.
	walkRoot := root
	if li, err := os.Lstat(root); err == nil && li.Mode()&fs.ModeSymlink != 0 {
		walkRoot = root + string(filepath.Separator)
	}

	var files []string
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == walkRoot {
				return err
			}
			s.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			s.logger.Debugf("Skipping symlink: %s", path)
			return nil
		}
		if d.IsDir() {
			s.stats.IncrementDirectoriesScanned()
			return nil
		}
		if !d.Type().IsRegular() || !MatchesExtension(d.Name(), exts) {
			return nil
		}

		files = append(files, path)
		s.stats.IncrementFilesFound()
		s.stats.IncrementFileType(strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), ".")))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return files, nil
}

// MatchesExtension is a case-insensitive suffix test of name against normalized extensions.
func MatchesExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
