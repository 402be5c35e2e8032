package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePairs(t *testing.T) {
	t.Parallel()

	got := ParsePairs(" Impact = secret-a ,cj=secret-b,broken, =orphan,empty=,impact=secret-c,key=a=b")
	require.Equal(t, map[string]string{
		"impact": "secret-c",
		"cj":     "secret-b",
		"key":    "a=b",
	}, got)
	require.Equal(t, []string{"cj", "impact", "key"}, SortedKeys(got))

	require.Empty(t, ParsePairs(""))
	require.Empty(t, SortedKeys(nil))
}
