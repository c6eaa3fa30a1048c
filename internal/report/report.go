// Package report renders a scan's results as the plain-text compression report.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"image-compressor/internal/scanner"
)

// Format renders one block per result in ResultSet order, separated by a blank line.
// Failed files, if any, follow in their own section. The output is deterministic.
func Format(set *scanner.ResultSet) string {
	if set == nil {
		return ""
	}

	blocks := make([]string, 0, len(set.Results)+1)
	for _, r := range set.Results {
		blocks = append(blocks, fmt.Sprintf("File: %s\nOriginal size: %d bytes\nCompressed size: %d bytes\nReduction: %s%%\n",
			r.File,
			r.OriginalSize,
			r.CompressedSize,
			strconv.FormatFloat(r.ReductionPercentage(), 'f', 2, 64)))
	}

	if len(set.Failures) > 0 {
		var b strings.Builder
		b.WriteString("Failed files:\n")
		for _, f := range set.Failures {
			fmt.Fprintf(&b, "- %s: %v\n", f.File, f.Err)
		}
		blocks = append(blocks, b.String())
	}

	return strings.Join(blocks, "\n")
}

// Save writes the report to path, replacing any previous report.
func Save(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
