package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTML(t *testing.T) {
	require.Equal(t, H("<b>a &amp; b</b>"), B("a & b"))
	require.Equal(t, H("<i>x</i>\n<b>y</b>"), JoinH("\n", I("x"), "", B("y")))
	require.Equal(t, "<pre><code>&lt;tag&gt;</code></pre>", Pre("<tag>").String())
}

func TestCallbackData(t *testing.T) {
	d, err := Data("settings", "notify", "on")
	require.NoError(t, err)
	require.Equal(t, "settings:notify:on", d)

	scope, action, payload, err := ParseData(d)
	require.NoError(t, err)
	require.Equal(t, []string{"settings", "notify", "on"}, []string{scope, action, payload})

	_, _, _, err = ParseData("broken")
	require.ErrorIs(t, err, ErrCallbackData)

	_, err = Data("s", "a", strings.Repeat("x", MaxCallbackDataLen))
	require.ErrorIs(t, err, ErrCallbackDataTooLong)
}

func TestTruncRunes(t *testing.T) {
	require.Equal(t, "Zür…", TruncRunes("Zürich", 3))
	require.Equal(t, "Zürich", TruncRunes("Zürich", 6))
	require.Equal(t, "", TruncRunes("x", 0))
}
