package manager

// [ADD] Session/result export, per SPEC_FULL.md §4.10: writes a decode
// execution's annotations to a daily-named CSV file, the decode-plane
// counterpart to the teacher's log.go writing daily APRS log files.
// File naming reuses the teacher's github.com/lestrrat-go/strftime
// dependency (src/tq.go, src/xmit.go) for the same %Y%m%d pattern.

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lestrrat-go/strftime"

	"github.com/flyingcys/pico-logicanalyzer-sub009/decode/runtime"
	"github.com/flyingcys/pico-logicanalyzer-sub009/internal/clock"
)

var csvHeader = []string{"session_id", "start_sample", "end_sample", "annotation_type", "values"}

// Exporter writes decode results to CSV files named by a strftime
// pattern (default "capture-%Y%m%d.csv"), one row per annotation,
// appending to the current day's file across multiple exports.
//
// Follows the teacher's tq.go/xmit.go usage directly: strftime.Format
// the pattern against the current time per call, rather than
// precompiling a *strftime.Strftime.
type Exporter struct {
	dir     string
	pattern string
	clk     clock.Clock
}

// NewExporter builds an Exporter writing into dir, naming files per
// pattern (e.g. "capture-%Y%m%d.csv").
func NewExporter(dir, pattern string, clk clock.Clock) (*Exporter, error) {
	if _, err := strftime.Format(pattern, clock.System.Now()); err != nil {
		return nil, fmt.Errorf("decode/manager: bad strftime pattern %q: %w", pattern, err)
	}
	if clk == nil {
		clk = clock.System
	}
	return &Exporter{dir: dir, pattern: pattern, clk: clk}, nil
}

// Export appends sessionID's annotations as CSV rows to the day's file,
// writing the header first if the file is new, and returns the path
// written to.
func (e *Exporter) Export(sessionID string, anns []runtime.Annotation) (string, error) {
	name, err := strftime.Format(e.pattern, e.clk.Now())
	if err != nil {
		return "", fmt.Errorf("decode/manager: format filename: %w", err)
	}
	path := filepath.Join(e.dir, name)

	info, statErr := os.Stat(path)
	needsHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("decode/manager: open %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(csvHeader); err != nil {
			return "", fmt.Errorf("decode/manager: write header: %w", err)
		}
	}
	for _, a := range anns {
		row := []string{
			sessionID,
			strconv.Itoa(a.Start),
			strconv.Itoa(a.End),
			strconv.Itoa(a.AnnotationType),
			strings.Join(a.Values, "|"),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("decode/manager: write row: %w", err)
		}
	}
	w.Flush()
	return path, w.Error()
}
