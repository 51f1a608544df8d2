package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// notePattern matches filenames this tool generates.
var notePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}_(Heypocket|Zoom|GoogleMeet)_.+\.md$`)

// VerifyReport compares recorded note paths with the notes on disk.
type VerifyReport struct {
	Scanned int `json:"scanned" yaml:"scanned"`
	// Missing are recorded paths with no file on disk.
	Missing []string `json:"missing" yaml:"missing"`
	// Untracked are generated-looking notes on disk with no state entry.
	Untracked []string `json:"untracked" yaml:"untracked"`
}

// OK reports whether state and disk agree.
func (r *VerifyReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Untracked) == 0
}

// Verify scans the output folder recursively for notes and reconciles them
// with the recorded file paths.
func (w *Writer) Verify(recorded []string) (*VerifyReport, error) {
	report := &VerifyReport{Missing: []string{}, Untracked: []string{}}

	onDisk := make(map[string]bool)
	if _, err := os.Stat(w.dir); err == nil {
		matches, err := doublestar.Glob(os.DirFS(w.dir), "**/*.md")
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", w.dir, err)
		}
		for _, rel := range matches {
			onDisk[filepath.Clean(filepath.Join(w.dir, filepath.FromSlash(rel)))] = true
		}
	}
	report.Scanned = len(onDisk)

	known := make(map[string]bool, len(recorded))
	for _, p := range recorded {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		known[clean] = true
		if onDisk[clean] {
			continue
		}
		if _, err := os.Stat(clean); err != nil {
			report.Missing = append(report.Missing, clean)
		}
	}

	for p := range onDisk {
		if !known[p] && notePattern.MatchString(filepath.Base(p)) {
			report.Untracked = append(report.Untracked, p)
		}
	}

	sort.Strings(report.Missing)
	sort.Strings(report.Untracked)
	return report, nil
}
