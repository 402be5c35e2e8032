package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCategory(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Home & Garden":         "home and garden",
		"  home   and garden  ": "home and garden",
		"ＨＯＭＥ & Garden":        "home and garden",
		"Health & Beauty":       "health and beauty",
		"Automotive/Tools":      "automotive tools",
		"":                      "",
	}
	for input, want := range cases {
		require.Equal(t, want, NormalizeCategory(input), "input %q", input)
	}
}

func TestCategoryContains(t *testing.T) {
	t.Parallel()

	score, ok := CategoryContains("automotive tools", "automotive")
	require.True(t, ok)
	require.Equal(t, len("automotive"), score)

	score, ok = CategoryContains("automotive tools", "automotive tools")
	require.True(t, ok)
	require.Equal(t, len("automotive tools"), score)

	_, ok = CategoryContains("home", "home decor")
	require.False(t, ok, "a generic query must not pick up a more specific rule")

	_, ok = CategoryContains("automotive", "auto")
	require.False(t, ok, "partial words must not match")

	_, ok = CategoryContains("", "electronics")
	require.False(t, ok)
}
