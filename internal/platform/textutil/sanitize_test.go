package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizePlainTextCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Wrong size returned", SanitizePlainText("<p>Wrong   size</p>\n returned", 0))
	require.Equal(t, "Fish & chips", SanitizePlainText("<b>Fish</b> &amp; chips", 0))
	require.Equal(t, "abc", SanitizePlainText("abcdef", 3))
	require.Equal(t, "", SanitizePlainText("   ", 10))
}

func TestSanitizeValueMapDropsEmptyValues(t *testing.T) {
	t.Parallel()

	got := SanitizeValueMap(map[string]any{
		" note ": "<i>gift</i>",
		"empty":  "<b></b>",
		"nested": map[string]any{"blank": ""},
		"list":   []any{"<u>paypal</u>", 3},
		"count":  5,
		"  ":     "dropped",
	}, 0)
	require.Equal(t, map[string]any{
		"note":  "gift",
		"list":  []any{"paypal", 3},
		"count": 5,
	}, got)

	require.Nil(t, SanitizeValueMap(map[string]any{"only": " "}, 0))
	require.Nil(t, SanitizeValueMap(nil, 0))
}

func TestSanitizePlainText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Price match alert", SanitizePlainText("<b>Price</b> match <script>x</script>alert", 0))
	require.Equal(t, "abc", SanitizePlainText("  abcdef ", 3))
	require.Equal(t, "Home & Garden", SanitizePlainText("Home & Garden", 0))

	sanitized := SanitizeValueMap(map[string]any{
		" email ": "<i>payout@example.com</i>",
		"nested":  map[string]any{"sku": "<b>GC-25</b>"},
		"amount":  25,
		"":        "dropped",
		"blank":   "<br>",
	}, 64)
	require.Equal(t, map[string]any{
		"email":  "payout@example.com",
		"nested": map[string]any{"sku": "GC-25"},
		"amount": 25,
	}, sanitized)
}
