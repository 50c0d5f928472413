package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
)

func TestCompileRejectsMalformedExpressions(t *testing.T) {
	tests := []string{
		"",
		".items[",
		"| |",
		".foo | bar(",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestRecordsFilterAndProjectInOnePass(t *testing.T) {
	expr, err := Compile(`.boards[].items_page.items[] | {id: .id, name: .name, group: .group.title}`)
	require.NoError(t, err)

	payload := map[string]interface{}{
		"boards": []interface{}{
			map[string]interface{}{
				"items_page": map[string]interface{}{
					"items": []interface{}{
						map[string]interface{}{
							"id": "1", "name": "first",
							"group": map[string]interface{}{"title": "todo"},
						},
						map[string]interface{}{
							"id": "2", "name": "second",
							"group": map[string]interface{}{"title": "done"},
						},
					},
				},
			},
		},
	}

	records, err := expr.Records(payload)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0]["name"])
	assert.Equal(t, "todo", records[0]["group"])
	assert.Equal(t, "2", records[1]["id"])
}

func TestRecordsZeroMatchesIsNotAnError(t *testing.T) {
	expr, err := Compile(`.boards[]?.items[]?`)
	require.NoError(t, err)

	records, err := expr.Records(map[string]interface{}{"unrelated": true})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordsStructuralErrorIsAttributable(t *testing.T) {
	expr, err := Compile(`.items[]`)
	require.NoError(t, err)

	_, err = expr.Records(map[string]interface{}{"items": "not-an-array"})
	require.Error(t, err)
	assert.True(t, errors.IsExtraction(err))
}

func TestRecordsFlattenArrays(t *testing.T) {
	expr, err := Compile(`.items`)
	require.NoError(t, err)

	records, err := expr.Records(map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": float64(1)},
			map[string]interface{}{"id": float64(2)},
		},
	})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRecordsRejectScalars(t *testing.T) {
	expr, err := Compile(`.count`)
	require.NoError(t, err)

	_, err = expr.Records(map[string]interface{}{"count": float64(3)})
	require.Error(t, err)
	assert.True(t, errors.IsExtraction(err))
}

func TestFirstString(t *testing.T) {
	expr, err := Compile(`.boards[].items_page.cursor`)
	require.NoError(t, err)

	payload := func(cursor interface{}) map[string]interface{} {
		return map[string]interface{}{
			"boards": []interface{}{
				map[string]interface{}{
					"items_page": map[string]interface{}{"cursor": cursor},
				},
			},
		}
	}

	s, found, err := expr.FirstString(payload("abc"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", s)

	_, found, err = expr.FirstString(payload(nil))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunIsPure(t *testing.T) {
	expr, err := Compile(`.a`)
	require.NoError(t, err)

	payload := map[string]interface{}{"a": map[string]interface{}{"x": float64(1)}}
	first, err := expr.Run(payload)
	require.NoError(t, err)
	second, err := expr.Run(payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	// The input payload is untouched.
	assert.Equal(t, float64(1), payload["a"].(map[string]interface{})["x"])
}
