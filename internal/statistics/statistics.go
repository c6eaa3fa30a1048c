package statistics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Statistics contains aggregate figures for one compression run.
// A run is sequential, so the counters are plain fields.
type Statistics struct {
	FilesFound      int64
	FilesCompressed int64
	FilesFailed     int64
	FilesGrown      int64

	BytesBefore int64
	BytesAfter  int64

	DirectoriesScanned int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	FileTypeStats map[string]int64

	Errors []StatError
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		FileTypeStats: make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of matching files by 1.
func (s *Statistics) IncrementFilesFound() {
	s.FilesFound++
}

// IncrementDirectoriesScanned increases the count of scanned directories by 1.
func (s *Statistics) IncrementDirectoriesScanned() {
	s.DirectoriesScanned++
}

// IncrementFileType increases the count for a specific file type by 1.
func (s *Statistics) IncrementFileType(fileType string) {
	s.FileTypeStats[fileType]++
}

// RecordCompressed accounts for one successfully rewritten file.
func (s *Statistics) RecordCompressed(originalSize, compressedSize int64) {
	s.FilesCompressed++
	s.BytesBefore += originalSize
	s.BytesAfter += compressedSize
	if compressedSize > originalSize {
		s.FilesGrown++
	}
}

// AddError records a per-file failure.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.FilesFailed++
	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize stamps the end time and duration.
func (s *Statistics) Finalize() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SpaceSaved returns the byte difference between inputs and outputs.
// Positive means outputs are smaller; negative means they grew.
func (s *Statistics) SpaceSaved() int64 {
	return s.BytesBefore - s.BytesAfter
}

// OverallReduction returns the reduction across all compressed files, 0 when nothing was compressed.
func (s *Statistics) OverallReduction() float64 {
	if s.BytesBefore <= 0 {
		return 0
	}
	return 100 - float64(s.BytesAfter)*100/float64(s.BytesBefore)
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`Compression Statistics Summary:

Files:
		Found: %d
		Compressed: %d
		Grew: %d
		Failed: %d

Size:
		Before: %s
		After: %s
		Saved: %s
		Reduction: %.2f%%

Performance:
		Duration: %v
		Directories Scanned: %d`,
		s.FilesFound,
		s.FilesCompressed,
		s.FilesGrown,
		s.FilesFailed,
		formatBytes(s.BytesBefore),
		formatBytes(s.BytesAfter),
		formatBytesWithSign(s.SpaceSaved()),
		s.OverallReduction(),
		s.Duration.Round(time.Millisecond),
		s.DirectoriesScanned)
}

// GetFileTypeBreakdown lists matched files per type, sorted by type.
func (s *Statistics) GetFileTypeBreakdown() string {
	if len(s.FileTypeStats) == 0 {
		return "No file type statistics available"
	}

	types := make([]string, 0, len(s.FileTypeStats))
	for t := range s.FileTypeStats {
		types = append(types, t)
	}
	sort.Strings(types)

	var b strings.Builder
	b.WriteString("File Type Breakdown:\n")
	for _, t := range types {
		fmt.Fprintf(&b, "  %s: %d\n", t, s.FileTypeStats[t])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return b.String()
}

// formatBytes returns a human-readable size (B, KiB, MiB, ...).
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatBytesWithSign prefixes "-" when the total grew.
func formatBytesWithSign(bytes int64) string {
	if bytes < 0 {
		return "-" + formatBytes(-bytes)
	}
	return formatBytes(bytes)
}
