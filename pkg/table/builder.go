// Package table turns extracted records into strongly typed tables.
package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
	"github.com/jeanboutros/monday-grabber/pkg/models"
)

// Builder applies a declared column schema to untyped records.
type Builder struct {
	policy models.RowPolicy
	logger zerolog.Logger
}

// NewBuilder creates a builder with the given row-failure policy.
func NewBuilder(policy models.RowPolicy, logger zerolog.Logger) (*Builder, error) {
	if !policy.Valid() {
		return nil, errors.Newf(errors.CodeConfigInvalid, "unknown row policy %q", policy)
	}
	return &Builder{
		policy: policy,
		logger: logger.With().Str("component", "table").Logger(),
	}, nil
}

// Build produces a table from records. Under the strict policy the first
// invalid row aborts the build and no table is returned. Under skip_invalid
// offending rows are excluded and returned as attributable errors; the
// remaining rows still form a valid, writable table.
//
// Column order in the result always matches declaration order, independent
// of record key order.
func (b *Builder) Build(records []models.Record, schema models.Schema) (*models.Table, []error, error) {
	if err := schema.Validate(); err != nil {
		return nil, nil, err
	}

	tbl := models.NewTable(schema)
	var rowErrs []error

	for _, rec := range records {
		row, err := b.buildRow(rec, schema)
		if err != nil {
			if b.policy == models.RowStrict {
				return nil, nil, err
			}
			b.logger.Warn().Err(err).Msg("skipping invalid row")
			rowErrs = append(rowErrs, err)
			continue
		}
		if err := tbl.AppendRow(row); err != nil {
			return nil, nil, err
		}
	}
	return tbl, rowErrs, nil
}

func (b *Builder) buildRow(rec models.Record, schema models.Schema) ([]interface{}, error) {
	row := make([]interface{}, len(schema))
	for i, col := range schema {
		raw, present := rec.Values[col.SourceKey()]
		if !present || raw == nil {
			if col.Default != nil {
				raw = col.Default
			} else if col.Nullable {
				row[i] = nil
				continue
			} else {
				return nil, errors.Newf(errors.CodeSchemaViolation,
					"column %q has no value, no default, and is not nullable", col.Name).
					WithProvenance(rec.Provenance)
			}
		}
		val, err := Coerce(raw, col)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeSchemaViolation,
				"column %q", col.Name).WithProvenance(rec.Provenance)
		}
		row[i] = val
	}
	return row, nil
}

// Coerce converts a raw extracted value into the column's semantic type.
// The function is total per type: every input either converts or returns
// an error, never a silent null.
func Coerce(raw interface{}, col models.Column) (interface{}, error) {
	switch col.Type {
	case models.TypeString:
		return coerceString(raw)
	case models.TypeInteger:
		return coerceInteger(raw)
	case models.TypeFloat:
		return coerceFloat(raw)
	case models.TypeBoolean:
		return coerceBoolean(raw)
	case models.TypeTimestamp:
		return coerceTime(raw, col.Format, timestampLayouts)
	case models.TypeDate:
		return coerceTime(raw, col.Format, dateLayouts)
	case models.TypeJSON:
		return coerceJSON(raw)
	default:
		return nil, fmt.Errorf("unknown type %q", col.Type)
	}
}

func coerceString(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		// JSON numbers decode as float64; keep integral values clean.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case map[string]interface{}, []interface{}:
		// Nested structures become their JSON text.
		return coerceJSON(v)
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func coerceInteger(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("value %v is not an integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not an integer", v)
		}
		return n, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to integer", raw)
	}
}

func coerceFloat(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a number", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to float", raw)
	}
}

func coerceBoolean(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, fmt.Errorf("value %q is not a boolean", v)
	case float64:
		switch v {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("value %v is not a boolean", v)
	default:
		return nil, fmt.Errorf("cannot coerce %T to boolean", raw)
	}
}

// Layouts tried in order for timestamp columns without an explicit format.
// The space-separated "UTC" form is what the monday.com API emits.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
}

func coerceTime(raw interface{}, format string, layouts []string) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		if t, isTime := raw.(time.Time); isTime {
			return t.UTC(), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to time", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty time value")
	}
	if format != "" {
		t, err := time.Parse(format, s)
		if err != nil {
			return nil, fmt.Errorf("value %q does not match format %q", s, format)
		}
		return t.UTC(), nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("value %q is not a recognized time", s)
}

func coerceJSON(raw interface{}) (interface{}, error) {
	if s, ok := raw.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	return string(encoded), nil
}
