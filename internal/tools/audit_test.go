package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"name":    "alpha",
		"limit":   float64(42),
		"exact":   7,
		"ratio":   0.5,
		"enabled": false,
		"meta":    map[string]any{"k": "v"},
		"wrong":   []any{"not a string"},
	}

	assert.Equal(t, "alpha", StringArg(args, "name"))
	assert.Equal(t, "", StringArg(args, "wrong"))
	assert.Equal(t, "", StringArg(args, "missing"))

	assert.Equal(t, 42, IntArg(args, "limit", 1))
	assert.Equal(t, 7, IntArg(args, "exact", 1))
	assert.Equal(t, 1, IntArg(args, "missing", 1))

	assert.Equal(t, 0.5, FloatArg(args, "ratio", 0.85))
	assert.Equal(t, 0.85, FloatArg(args, "missing", 0.85))

	assert.False(t, BoolArg(args, "enabled", true))
	assert.True(t, BoolArg(args, "missing", true))

	assert.Equal(t, map[string]any{"k": "v"}, MapArg(args, "meta"))
	assert.Nil(t, MapArg(args, "missing"))
}
