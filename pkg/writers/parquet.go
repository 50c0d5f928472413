package writers

import (
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
	"github.com/jeanboutros/monday-grabber/pkg/models"
)

// ParquetWriter writes tables as Parquet via Arrow. Unlike the text
// formats it preserves native temporal types.
type ParquetWriter struct{}

// Extension returns ".parquet".
func (w *ParquetWriter) Extension() string { return ".parquet" }

// Write serializes the table to a Parquet file.
func (w *ParquetWriter) Write(t *models.Table, path string) (string, error) {
	path = withExtension(path, w.Extension())
	if err := ensureDirectory(path); err != nil {
		return "", errors.Wrap(err, errors.CodeWriteFailed, "create output directory")
	}

	schema := arrowSchema(t.Columns())
	rec, err := buildRecord(schema, t)
	if err != nil {
		return "", err
	}
	defer rec.Release()

	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeWriteFailed, "create %s", path)
	}
	defer f.Close()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	if err := pqarrow.WriteTable(tbl, f, int64(t.NumRows())+1, props, pqarrow.DefaultWriterProps()); err != nil {
		return "", errors.Wrapf(err, errors.CodeWriteFailed, "write parquet %s", path)
	}
	return path, nil
}

func arrowSchema(cols models.Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		fields[i] = arrow.Field{
			Name:     col.Name,
			Type:     arrowType(col.Type),
			Nullable: true,
		}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(t models.DataType) arrow.DataType {
	switch t {
	case models.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case models.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case models.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case models.TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case models.TypeDate:
		return arrow.FixedWidthTypes.Date32
	default:
		// string and json columns are stored as UTF-8.
		return arrow.BinaryTypes.String
	}
}

func buildRecord(schema *arrow.Schema, t *models.Table) (arrow.Record, error) {
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	cols := t.Columns()
	for i := 0; i < t.NumRows(); i++ {
		values := t.Row(i)
		for j := range cols {
			if err := appendValue(builder.Field(j), values[j]); err != nil {
				return nil, errors.Wrapf(err, errors.CodeWriteFailed,
					"row %d column %q", i, cols[j].Name)
			}
		}
	}
	return builder.NewRecord(), nil
}

func appendValue(fb array.Builder, v interface{}) error {
	if v == nil {
		fb.AppendNull()
		return nil
	}
	switch b := fb.(type) {
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			return errors.Newf(errors.CodeInternal, "expected string cell, got %T", v)
		}
		b.Append(s)
	case *array.Int64Builder:
		n, ok := v.(int64)
		if !ok {
			return errors.Newf(errors.CodeInternal, "expected int64 cell, got %T", v)
		}
		b.Append(n)
	case *array.Float64Builder:
		f, ok := v.(float64)
		if !ok {
			return errors.Newf(errors.CodeInternal, "expected float64 cell, got %T", v)
		}
		b.Append(f)
	case *array.BooleanBuilder:
		bv, ok := v.(bool)
		if !ok {
			return errors.Newf(errors.CodeInternal, "expected bool cell, got %T", v)
		}
		b.Append(bv)
	case *array.TimestampBuilder:
		ts, ok := v.(time.Time)
		if !ok {
			return errors.Newf(errors.CodeInternal, "expected time cell, got %T", v)
		}
		b.Append(arrow.Timestamp(ts.UTC().UnixMicro()))
	case *array.Date32Builder:
		d, ok := v.(time.Time)
		if !ok {
			return errors.Newf(errors.CodeInternal, "expected time cell, got %T", v)
		}
		b.Append(arrow.Date32FromTime(d.UTC()))
	default:
		return errors.Newf(errors.CodeInternal, "unsupported builder %T", fb)
	}
	return nil
}
