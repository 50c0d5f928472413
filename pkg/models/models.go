// Package models provides data structures used throughout the grabber.
package models

import (
	"fmt"
	"time"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
)

// DataType is the semantic type of a table column.
type DataType string

// Supported column data types.
const (
	TypeString    DataType = "string"
	TypeInteger   DataType = "integer"
	TypeFloat     DataType = "float"
	TypeBoolean   DataType = "boolean"
	TypeTimestamp DataType = "timestamp"
	TypeDate      DataType = "date"
	TypeJSON      DataType = "json"
)

// Valid reports whether the type is one of the closed set.
func (t DataType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeTimestamp, TypeDate, TypeJSON:
		return true
	}
	return false
}

// OutputFormat is the serialization format of a finished table.
type OutputFormat string

// Supported output formats.
const (
	FormatCSV     OutputFormat = "csv"
	FormatJSON    OutputFormat = "json"
	FormatParquet OutputFormat = "parquet"
)

// Valid reports whether the format is one of the closed set.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatCSV, FormatJSON, FormatParquet:
		return true
	}
	return false
}

// EntityType is the kind of API object a query targets.
type EntityType string

// Known entity types.
const (
	EntityBoard     EntityType = "board"
	EntityWorkspace EntityType = "workspace"
	EntityUser      EntityType = "user"
	EntityTeam      EntityType = "team"
	EntityFolder    EntityType = "folder"
	EntityItem      EntityType = "item"
)

// Valid reports whether the entity type is one of the closed set.
func (e EntityType) Valid() bool {
	switch e {
	case EntityBoard, EntityWorkspace, EntityUser, EntityTeam, EntityFolder, EntityItem:
		return true
	}
	return false
}

// RowPolicy controls what a coercion or schema failure does to the build.
type RowPolicy string

const (
	// RowStrict aborts the whole build on the first invalid row.
	RowStrict RowPolicy = "strict"
	// RowSkipInvalid drops invalid rows and reports them.
	RowSkipInvalid RowPolicy = "skip_invalid"
)

// Valid reports whether the policy is one of the closed set.
func (p RowPolicy) Valid() bool {
	return p == RowStrict || p == RowSkipInvalid
}

// EntityPolicy controls what one entity's failure does to the run.
type EntityPolicy string

const (
	// EntityAbortAll fails the whole run on any entity failure.
	EntityAbortAll EntityPolicy = "abort_all"
	// EntityBestEffort aggregates the successful entities and reports the rest.
	EntityBestEffort EntityPolicy = "best_effort"
)

// Valid reports whether the policy is one of the closed set.
func (p EntityPolicy) Valid() bool {
	return p == EntityAbortAll || p == EntityBestEffort
}

// Column declares one output column of a table schema.
type Column struct {
	// Name is the output column name.
	Name string `mapstructure:"name" yaml:"name"`
	// Source is the record key to read; empty means Name.
	Source string `mapstructure:"source" yaml:"source"`
	// Type is the semantic type values are coerced into.
	Type DataType `mapstructure:"type" yaml:"type"`
	// Nullable allows missing values to become nulls.
	Nullable bool `mapstructure:"nullable" yaml:"nullable"`
	// Default substitutes missing values before the nullability check.
	Default interface{} `mapstructure:"default" yaml:"default"`
	// Format overrides timestamp/date parsing (Go reference layout).
	Format string `mapstructure:"format" yaml:"format"`
}

// SourceKey returns the record key this column reads from.
func (c Column) SourceKey() string {
	if c.Source != "" {
		return c.Source
	}
	return c.Name
}

// Schema is an ordered column declaration list. Order is significant: the
// output table's column order always matches it.
type Schema []Column

// Validate checks the schema for structural problems.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.New(errors.CodeConfigInvalid, "schema declares no columns")
	}
	seen := make(map[string]struct{}, len(s))
	for _, col := range s {
		if col.Name == "" {
			return errors.New(errors.CodeConfigInvalid, "schema column with empty name")
		}
		if _, dup := seen[col.Name]; dup {
			return errors.Newf(errors.CodeConfigInvalid, "duplicate schema column %q", col.Name)
		}
		seen[col.Name] = struct{}{}
		if !col.Type.Valid() {
			return errors.Newf(errors.CodeConfigInvalid, "column %q has unknown type %q", col.Name, col.Type)
		}
	}
	return nil
}

// Names returns the declared column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, col := range s {
		names[i] = col.Name
	}
	return names
}

// PaginationRule describes how the cursor protocol is driven for a query.
type PaginationRule struct {
	// Enabled turns pagination on; a disabled rule fetches one page.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// CursorPath is the jq path to the next cursor in a response payload.
	CursorPath string `mapstructure:"cursor_path" yaml:"cursor_path"`
	// ItemsPath is the jq path to the page's item array (informational,
	// used by the extraction expression).
	ItemsPath string `mapstructure:"items_path" yaml:"items_path"`
	// CursorVariable is the query variable the next cursor is merged into.
	CursorVariable string `mapstructure:"cursor_variable" yaml:"cursor_variable"`
	// PageSizeVariable names the query variable holding the page size.
	PageSizeVariable string `mapstructure:"page_size_variable" yaml:"page_size_variable"`
	// Sentinel is a cursor value that means "no more pages" in addition
	// to null/absent.
	Sentinel string `mapstructure:"sentinel" yaml:"sentinel"`
	// MaxPages caps the chain length per entity; exceeding it is fatal
	// for that entity. Zero means the package default.
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
}

// QuerySpec is the immutable descriptor of one configured query. It is
// loaded once per run and read-only thereafter.
type QuerySpec struct {
	// Name is the configured query name.
	Name string
	// Description is free-form documentation from the config.
	Description string
	// Document is the GraphQL document text.
	Document string
	// Entity is the kind of object the query targets.
	Entity EntityType
	// EntityVariable is the query variable entity IDs are substituted into.
	EntityVariable string
	// Variables is the variable template merged into every request.
	Variables map[string]interface{}
	// Pagination drives the cursor protocol.
	Pagination PaginationRule
	// Transform is the jq expression producing flat records from a payload.
	Transform string
	// Columns is the declared output schema.
	Columns Schema
	// Rows is the per-row failure policy.
	Rows RowPolicy
	// Entities is the per-entity failure policy.
	Entities EntityPolicy
	// Output declares the default destination.
	Output OutputSpec
}

// OutputSpec is the default destination for a query's table.
type OutputSpec struct {
	Format OutputFormat `mapstructure:"format" yaml:"format"`
	Path   string       `mapstructure:"path" yaml:"path"`
}

// VariablesForEntity returns a fresh variables map with the entity ID
// substituted into the template. The template itself is never mutated.
func (q *QuerySpec) VariablesForEntity(entityID string) map[string]interface{} {
	vars := make(map[string]interface{}, len(q.Variables)+1)
	for k, v := range q.Variables {
		vars[k] = v
	}
	if q.EntityVariable != "" {
		vars[q.EntityVariable] = entityID
	}
	return vars
}

// PageResult is one API round-trip of an entity's page chain.
type PageResult struct {
	// Entity is the entity ID this page belongs to.
	Entity string
	// Seq is the zero-based index within the entity's stream.
	Seq int
	// Cursor is the cursor this page was fetched with ("" for the first).
	Cursor string
	// NextCursor is the cursor for the following page; nil means the
	// stream is terminal.
	NextCursor *string
	// Payload is the raw decoded JSON response.
	Payload map[string]interface{}
}

// Terminal reports whether this page ends its entity's stream.
func (p *PageResult) Terminal() bool {
	return p.NextCursor == nil
}

// Record is one extracted, still-untyped row with its provenance.
type Record struct {
	Values     map[string]interface{}
	Provenance errors.Provenance
}

// Table is a finished, strongly typed tabular result. The column set is
// fixed at construction; rows hold values aligned to column order. Cell
// values are string, int64, float64, bool, time.Time or nil.
type Table struct {
	columns Schema
	index   map[string]int
	rows    [][]interface{}
}

// NewTable creates an empty table with the given fixed schema.
func NewTable(columns Schema) *Table {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		index[col.Name] = i
	}
	return &Table{columns: columns, index: index}
}

// Columns returns the declared schema in order.
func (t *Table) Columns() Schema {
	return t.columns
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	return len(t.rows)
}

// AppendRow adds a typed row. The row must be aligned to the column order.
func (t *Table) AppendRow(row []interface{}) error {
	if len(row) != len(t.columns) {
		return errors.Newf(errors.CodeInternal,
			"row has %d values, schema declares %d columns", len(row), len(t.columns))
	}
	t.rows = append(t.rows, row)
	return nil
}

// Row returns the i-th row aligned to column order.
func (t *Table) Row(i int) []interface{} {
	return t.rows[i]
}

// Cell returns the value at (row, column name).
func (t *Table) Cell(row int, column string) (interface{}, error) {
	idx, ok := t.index[column]
	if !ok {
		return nil, errors.Newf(errors.CodeInternal, "no such column %q", column)
	}
	if row < 0 || row >= len(t.rows) {
		return nil, errors.Newf(errors.CodeInternal, "row %d out of range", row)
	}
	return t.rows[row][idx], nil
}

// CellString renders a cell for text output formats. Timestamps become
// RFC3339 UTC, dates ISO dates, nulls empty strings.
func CellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
