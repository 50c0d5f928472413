package queries

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
	"github.com/jeanboutros/monday-grabber/pkg/models"
)

const itemsDocument = `query GetBoardItems($boardId: ID!, $limit: Int!, $cursor: String) {
  boards(ids: [$boardId]) {
    items_page(limit: $limit, cursor: $cursor) {
      cursor
      items {
        id
        name
      }
    }
  }
}
`

const boardsDocument = `query GetBoards($limit: Int!) {
  boards(limit: $limit) {
    id
    name
  }
}
`

const itemsConfig = `queries:
  get_board_items:
    description: Items of one board
    graphql_file: get_board_items.graphql
    entity_type: board
    entity_variable: boardId
    variables:
      limit: 100
    pagination:
      enabled: true
      cursor_path: ".boards[].items_page.cursor"
      cursor_variable: cursor
    transform: ".boards[].items_page.items[]"
    columns:
      - name: id
        type: string
        nullable: false
      - name: name
        type: string
        nullable: false
    policies:
      rows: strict
      entities: abort_all
    output:
      format: csv
  get_boards:
    graphql_file: get_boards.graphql
    transform: ".boards[]"
    columns:
      - name: id
        type: string
        nullable: false

boards:
  main_board: "1234567890"
`

func writeFixtures(t *testing.T, config string, documents map[string]string) *Loader {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "queries.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	for name, doc := range documents {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
	}
	loader, err := NewLoader(dir, configPath)
	require.NoError(t, err)
	return loader
}

func defaultFixtures(t *testing.T) *Loader {
	t.Helper()
	return writeFixtures(t, itemsConfig, map[string]string{
		"get_board_items.graphql": itemsDocument,
		"get_boards.graphql":      boardsDocument,
	})
}

func TestResolveFullyConfiguredQuery(t *testing.T) {
	loader := defaultFixtures(t)

	spec, err := loader.Resolve("get_board_items")
	require.NoError(t, err)

	assert.Equal(t, "get_board_items", spec.Name)
	assert.Equal(t, models.EntityBoard, spec.Entity)
	assert.Equal(t, "boardId", spec.EntityVariable)
	assert.Equal(t, 100, spec.Variables["limit"])
	assert.True(t, spec.Pagination.Enabled)
	assert.Equal(t, ".boards[].items_page.cursor", spec.Pagination.CursorPath)
	assert.Equal(t, models.RowStrict, spec.Rows)
	assert.Equal(t, models.EntityAbortAll, spec.Entities)
	assert.Equal(t, models.FormatCSV, spec.Output.Format)
	require.Len(t, spec.Columns, 2)
}

func TestResolveAppliesDefaults(t *testing.T) {
	loader := defaultFixtures(t)

	spec, err := loader.Resolve("get_boards")
	require.NoError(t, err)

	assert.Equal(t, models.EntityBoard, spec.Entity)
	assert.Equal(t, models.RowStrict, spec.Rows)
	assert.Equal(t, models.EntityBestEffort, spec.Entities)
	assert.Equal(t, models.FormatParquet, spec.Output.Format)
	assert.False(t, spec.Pagination.Enabled)
}

func TestResolveUnknownQuery(t *testing.T) {
	loader := defaultFixtures(t)

	_, err := loader.Resolve("no_such_query")
	require.Error(t, err)
	assert.Equal(t, errors.CodeQueryNotFound, errors.Code(err))
}

func TestResolveMissingDocumentFile(t *testing.T) {
	loader := writeFixtures(t, itemsConfig, map[string]string{
		"get_boards.graphql": boardsDocument,
	})

	_, err := loader.Resolve("get_board_items")
	require.Error(t, err)
	assert.Equal(t, errors.CodeQueryNotFound, errors.Code(err))
}

func TestResolveInvalidGraphQLDocument(t *testing.T) {
	loader := writeFixtures(t, itemsConfig, map[string]string{
		"get_board_items.graphql": "query Broken($boardId: ID! {",
		"get_boards.graphql":      boardsDocument,
	})

	_, err := loader.Resolve("get_board_items")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestResolveInvalidTransform(t *testing.T) {
	config := `queries:
  broken:
    graphql_file: get_boards.graphql
    transform: ".items["
    columns:
      - name: id
        type: string
`
	loader := writeFixtures(t, config, map[string]string{
		"get_boards.graphql": boardsDocument,
	})

	_, err := loader.Resolve("broken")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "transform")
}

func TestResolveInvalidCursorPath(t *testing.T) {
	config := `queries:
  broken:
    graphql_file: get_board_items.graphql
    transform: ".boards[]"
    pagination:
      enabled: true
      cursor_path: ".boards[].cursor["
      cursor_variable: cursor
    columns:
      - name: id
        type: string
`
	loader := writeFixtures(t, config, map[string]string{
		"get_board_items.graphql": itemsDocument,
	})

	_, err := loader.Resolve("broken")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "cursor_path")
}

func TestResolveUndeclaredCursorVariable(t *testing.T) {
	config := `queries:
  broken:
    graphql_file: get_boards.graphql
    transform: ".boards[]"
    pagination:
      enabled: true
      cursor_path: ".cursor"
      cursor_variable: cursor
    columns:
      - name: id
        type: string
`
	// get_boards declares only $limit, so $cursor must be rejected.
	loader := writeFixtures(t, config, map[string]string{
		"get_boards.graphql": boardsDocument,
	})

	_, err := loader.Resolve("broken")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "$cursor")
}

func TestResolveUndeclaredEntityVariable(t *testing.T) {
	config := `queries:
  broken:
    graphql_file: get_boards.graphql
    entity_variable: boardId
    transform: ".boards[]"
    columns:
      - name: id
        type: string
`
	loader := writeFixtures(t, config, map[string]string{
		"get_boards.graphql": boardsDocument,
	})

	_, err := loader.Resolve("broken")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "$boardId")
}

func TestResolveInvalidRowPolicy(t *testing.T) {
	config := `queries:
  broken:
    graphql_file: get_boards.graphql
    transform: ".boards[]"
    columns:
      - name: id
        type: string
    policies:
      rows: maybe
`
	loader := writeFixtures(t, config, map[string]string{
		"get_boards.graphql": boardsDocument,
	})

	_, err := loader.Resolve("broken")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestResolveEmptyDocument(t *testing.T) {
	loader := writeFixtures(t, itemsConfig, map[string]string{
		"get_board_items.graphql": "\n\n",
		"get_boards.graphql":      boardsDocument,
	})

	_, err := loader.Resolve("get_board_items")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestBoardID(t *testing.T) {
	loader := defaultFixtures(t)

	id, err := loader.BoardID("main_board")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", id)

	_, err = loader.BoardID("unknown")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestNames(t *testing.T) {
	loader := defaultFixtures(t)
	assert.ElementsMatch(t, []string{"get_board_items", "get_boards"}, loader.Names())
}

func TestNewLoaderMissingConfig(t *testing.T) {
	_, err := NewLoader(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}
