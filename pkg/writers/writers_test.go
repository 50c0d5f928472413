package writers

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanboutros/monday-grabber/pkg/models"
)

func sampleTable(t *testing.T) *models.Table {
	t.Helper()
	schema := models.Schema{
		{Name: "id", Type: models.TypeInteger, Nullable: false},
		{Name: "name", Type: models.TypeString, Nullable: false},
		{Name: "ratio", Type: models.TypeFloat, Nullable: true},
		{Name: "active", Type: models.TypeBoolean, Nullable: true},
		{Name: "created_at", Type: models.TypeTimestamp, Nullable: true},
		{Name: "due", Type: models.TypeDate, Nullable: true},
	}
	tbl := models.NewTable(schema)
	created := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	due := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tbl.AppendRow([]interface{}{int64(1), "first", 0.5, true, created, due}))
	require.NoError(t, tbl.AppendRow([]interface{}{int64(2), "second", nil, false, nil, nil}))
	return tbl
}

func TestCSVRoundTrip(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "out")

	written, err := (&CSVWriter{}).Write(tbl, path)
	require.NoError(t, err)
	assert.Equal(t, path+".csv", written)

	f, err := os.Open(written)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "name", "ratio", "active", "created_at", "due"}, rows[0])
	assert.Equal(t, []string{"1", "first", "0.5", "true", "2024-01-15T10:30:00Z", "2024-06-30"}, rows[1])
	assert.Equal(t, []string{"2", "second", "", "false", "", ""}, rows[2])
}

func TestJSONRoundTrip(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "out.json")

	written, err := (&JSONWriter{}).Write(tbl, path)
	require.NoError(t, err)

	raw, err := os.ReadFile(written)
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &rows))

	require.Len(t, rows, 2)
	assert.Equal(t, float64(1), rows[0]["id"])
	assert.Equal(t, "first", rows[0]["name"])
	assert.Equal(t, true, rows[0]["active"])
	assert.Equal(t, "2024-01-15T10:30:00Z", rows[0]["created_at"])
	assert.Equal(t, "2024-06-30", rows[0]["due"])
	assert.Nil(t, rows[1]["ratio"])
}

func TestParquetWriteProducesFile(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "out")

	written, err := (&ParquetWriter{}).Write(tbl, path)
	require.NoError(t, err)
	assert.Equal(t, path+".parquet", written)

	info, err := os.Stat(written)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestParquetWriteEmptyTable(t *testing.T) {
	tbl := models.NewTable(models.Schema{
		{Name: "id", Type: models.TypeInteger},
	})
	path := filepath.Join(t.TempDir(), "empty")
	_, err := (&ParquetWriter{}).Write(tbl, path)
	require.NoError(t, err)
}

func TestForFormat(t *testing.T) {
	w, err := ForFormat(models.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, ".csv", w.Extension())

	w, err = ForFormat(models.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, ".json", w.Extension())

	w, err = ForFormat(models.FormatParquet)
	require.NoError(t, err)
	assert.Equal(t, ".parquet", w.Extension())

	_, err = ForFormat("xlsx")
	require.Error(t, err)
}

func TestForPathInference(t *testing.T) {
	w, err := ForPath("data/out.csv")
	require.NoError(t, err)
	assert.Equal(t, ".csv", w.Extension())

	w, err = ForPath("data/out.json")
	require.NoError(t, err)
	assert.Equal(t, ".json", w.Extension())

	// Unknown or missing extensions default to parquet.
	w, err = ForPath("data/out")
	require.NoError(t, err)
	assert.Equal(t, ".parquet", w.Extension())
}

func TestWriteCreatesDirectories(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "nested", "deeper", "out.csv")
	written, err := (&CSVWriter{}).Write(tbl, path)
	require.NoError(t, err)
	assert.FileExists(t, written)
}
