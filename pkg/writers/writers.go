// Package writers serializes finished tables. All formats are reached
// through the single Writer contract; the pipeline treats them uniformly.
package writers

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
	"github.com/jeanboutros/monday-grabber/pkg/models"
)

// Writer serializes a table to a destination path. Write returns the final
// path, which always carries the writer's extension.
type Writer interface {
	Write(t *models.Table, path string) (string, error)
	Extension() string
}

// ForFormat returns the writer for an output format.
func ForFormat(format models.OutputFormat) (Writer, error) {
	switch format {
	case models.FormatCSV:
		return &CSVWriter{}, nil
	case models.FormatJSON:
		return &JSONWriter{}, nil
	case models.FormatParquet:
		return &ParquetWriter{}, nil
	default:
		return nil, errors.Newf(errors.CodeConfigInvalid, "no writer for format %q", format)
	}
}

// ForPath infers the format from a path's extension, defaulting to parquet.
func ForPath(path string) (Writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &CSVWriter{}, nil
	case ".json":
		return &JSONWriter{}, nil
	default:
		return &ParquetWriter{}, nil
	}
}

// cellText renders one cell for the text formats. Timestamps become
// RFC3339 UTC, dates plain ISO dates, nulls empty strings.
func cellText(v interface{}, col models.Column) string {
	if t, ok := v.(time.Time); ok && col.Type == models.TypeDate {
		return t.UTC().Format("2006-01-02")
	}
	return models.CellString(v)
}

func withExtension(path, ext string) string {
	current := filepath.Ext(path)
	if current == ext {
		return path
	}
	if current != "" {
		path = strings.TrimSuffix(path, current)
	}
	return path + ext
}

func ensureDirectory(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// CSVWriter writes tables as CSV with a header row.
type CSVWriter struct{}

// Extension returns ".csv".
func (w *CSVWriter) Extension() string { return ".csv" }

// Write serializes the table to a CSV file.
func (w *CSVWriter) Write(t *models.Table, path string) (string, error) {
	path = withExtension(path, w.Extension())
	if err := ensureDirectory(path); err != nil {
		return "", errors.Wrap(err, errors.CodeWriteFailed, "create output directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeWriteFailed, "create %s", path)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	cols := t.Columns()
	if err := cw.Write(cols.Names()); err != nil {
		return "", errors.Wrap(err, errors.CodeWriteFailed, "write CSV header")
	}
	row := make([]string, len(cols))
	for i := 0; i < t.NumRows(); i++ {
		values := t.Row(i)
		for j, col := range cols {
			row[j] = cellText(values[j], col)
		}
		if err := cw.Write(row); err != nil {
			return "", errors.Wrapf(err, errors.CodeWriteFailed, "write CSV row %d", i)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", errors.Wrap(err, errors.CodeWriteFailed, "flush CSV")
	}
	return path, nil
}

// JSONWriter writes tables as a row-oriented JSON array.
type JSONWriter struct{}

// Extension returns ".json".
func (w *JSONWriter) Extension() string { return ".json" }

// Write serializes the table to a JSON file.
func (w *JSONWriter) Write(t *models.Table, path string) (string, error) {
	path = withExtension(path, w.Extension())
	if err := ensureDirectory(path); err != nil {
		return "", errors.Wrap(err, errors.CodeWriteFailed, "create output directory")
	}

	cols := t.Columns()
	rows := make([]map[string]interface{}, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		values := t.Row(i)
		obj := make(map[string]interface{}, len(cols))
		for j, col := range cols {
			obj[col.Name] = jsonCell(values[j], col)
		}
		rows = append(rows, obj)
	}

	encoded, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.CodeWriteFailed, "encode JSON")
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", errors.Wrapf(err, errors.CodeWriteFailed, "write %s", path)
	}
	return path, nil
}

// jsonCell keeps native JSON types where they exist and falls back to the
// text rendering for temporal values.
func jsonCell(v interface{}, col models.Column) interface{} {
	switch v.(type) {
	case nil, string, bool, int64, float64:
		return v
	default:
		return cellText(v, col)
	}
}
