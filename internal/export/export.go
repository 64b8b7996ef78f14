// Package export writes run artifacts as CSV files: one combined hype-index
// file per term plus one data file per surviving source in native units.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rewired-gh/hypetrack/internal/models"
)

// Writer writes CSV artifacts into OutDir, creating it as needed.
type Writer struct {
	OutDir string
}

// Slug turns a term into a filesystem-safe file name stem: path separators
// are stripped, spaces become underscores, and the result is lowercased.
func Slug(term string) string {
	s := strings.NewReplacer("/", "", "\\", "").Replace(term)
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ToLower(s)
}

// WriteHype writes <slug>_hype.csv: one row per bucket with the normalized
// component values and the composite score. Sources the run could not reach
// appear as empty cells rather than zeros.
func (w *Writer) WriteHype(q models.Query, h models.HypeSeries) (string, error) {
	spans, err := q.Spans()
	if err != nil {
		return "", err
	}
	if len(spans) != len(h.Points) {
		return "", fmt.Errorf("series has %d points, query has %d buckets", len(h.Points), len(spans))
	}

	// Column order follows the canonical source order, restricted to the
	// sources this run attempted.
	var cols []models.SourceID
	if len(h.Points) > 0 {
		for _, id := range models.AllSources {
			if _, ok := h.Points[0].Components[id]; ok {
				cols = append(cols, id)
			}
		}
	}

	header := []string{"bucket", "start", "end"}
	for _, id := range cols {
		header = append(header, string(id)+"_norm")
	}
	header = append(header, "composite")

	rows := make([][]string, 0, len(h.Points))
	for i, p := range h.Points {
		row := []string{
			spans[i].Label(q.Bucket),
			spans[i].Start.Format("2006-01-02"),
			spans[i].End.Format("2006-01-02"),
		}
		for _, id := range cols {
			if v := p.Components[id]; v != nil {
				row = append(row, formatValue(*v))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, formatValue(p.Composite))
		rows = append(rows, row)
	}

	path := filepath.Join(w.OutDir, Slug(q.Term)+"_hype.csv")
	return path, w.writeFile(path, header, rows)
}

// WriteSourceData writes <slug>_<source>_data.csv: the source's aggregated
// per-bucket values in native units, before normalization.
func (w *Writer) WriteSourceData(q models.Query, id models.SourceID, vals []float64) (string, error) {
	spans, err := q.Spans()
	if err != nil {
		return "", err
	}
	if len(spans) != len(vals) {
		return "", fmt.Errorf("source %s has %d values, query has %d buckets", id, len(vals), len(spans))
	}

	header := []string{"period", "start_date", "end_date", "value"}
	rows := make([][]string, 0, len(vals))
	for i, v := range vals {
		rows = append(rows, []string{
			spans[i].Label(q.Bucket),
			spans[i].Start.Format("2006-01-02"),
			spans[i].End.Format("2006-01-02"),
			formatValue(v),
		})
	}

	path := filepath.Join(w.OutDir, fmt.Sprintf("%s_%s_data.csv", Slug(q.Term), id))
	return path, w.writeFile(path, header, rows)
}

func (w *Writer) writeFile(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(w.OutDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Close()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
