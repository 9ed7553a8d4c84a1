package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_Empty(t *testing.T) {
	items := Strategy{}.Expand()
	require.Len(t, items, 1)
	assert.Equal(t, "", items[0].ID)
	assert.Empty(t, items[0].Values)
}

func TestExpand_Product(t *testing.T) {
	s := Strategy{Matrix: map[string][]any{
		"region": {"eu", "us"},
		"tier":   {1, 2},
	}}
	items := s.Expand()
	require.Len(t, items, 4)

	// Dimensions iterate in sorted name order, values in declaration order.
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"eu-1", "eu-2", "us-1", "us-2"}, ids)
	assert.Equal(t, map[string]any{"region": "eu", "tier": 2}, items[1].Values)
}

func TestExpand_IncludeExclude(t *testing.T) {
	s := Strategy{
		Matrix:  map[string][]any{"os": {"linux", "darwin"}},
		Include: []map[string]any{{"os": "windows"}, {"os": "linux"}},
		Exclude: []map[string]any{{"os": "darwin"}},
	}
	items := s.Expand()

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	// darwin excluded, windows appended, duplicate linux include dropped.
	assert.Equal(t, []string{"linux", "windows"}, ids)
}

func TestExpand_ExcludePartialMatch(t *testing.T) {
	s := Strategy{
		Matrix: map[string][]any{
			"os":   {"linux", "darwin"},
			"arch": {"amd64", "arm64"},
		},
		// Matches on its own key set only.
		Exclude: []map[string]any{{"os": "darwin", "arch": "arm64"}},
	}
	items := s.Expand()
	require.Len(t, items, 3)
	for _, it := range items {
		if it.Values["os"] == "darwin" {
			assert.Equal(t, "amd64", it.Values["arch"])
		}
	}
}

func TestExpand_IncludeOnly(t *testing.T) {
	s := Strategy{Include: []map[string]any{
		{"case": "a"},
		{"case": "b"},
	}}
	items := s.Expand()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
}

func TestFailFastDefault(t *testing.T) {
	assert.True(t, Strategy{}.FailFastEnabled())
	off := false
	assert.False(t, Strategy{FailFast: &off}.FailFastEnabled())
}
