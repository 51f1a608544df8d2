package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tableHTML = `<html><head><title>t</title><script>var x = "Sign In";</script></head><body>
<nav>Home</nav>
<table><tbody>
<tr class="zm-table__row normal-row"><td><div class="cell">x</div></td><td><div class="cell">Weekly   sync</div></td></tr>
<tr class="zm-table__row normal-row"><td><div class="cell">y</div></td><td><div class="cell">Retro</div></td></tr>
</tbody></table>
<p>First<br>Second</p>
</body></html>`

func TestSnapshot_Query(t *testing.T) {
	snap, err := Parse("https://zoom.us/list", tableHTML)
	require.NoError(t, err)

	rows := snap.QueryAll("tr.zm-table__row")
	require.Len(t, rows, 2)
	assert.Equal(t, "Weekly sync", rows[0].Query("td:nth-child(2) .cell").Text())
	assert.Equal(t, "Retro", rows[1].Query("td:nth-child(2) .cell").Text())

	cls, ok := rows[0].Attr("class")
	assert.True(t, ok)
	assert.Equal(t, "zm-table__row normal-row", cls)

	assert.Nil(t, snap.Query("div.missing"))
	assert.Nil(t, snap.QueryAll("[[bad"))
}

func TestSnapshot_TextSkipsScripts(t *testing.T) {
	snap, err := Parse("u", tableHTML)
	require.NoError(t, err)

	assert.False(t, snap.ContainsText("sign in"))
	assert.True(t, snap.ContainsText("WEEKLY"))
}

func TestElement_InnerText(t *testing.T) {
	snap, err := Parse("u", tableHTML)
	require.NoError(t, err)

	p := snap.Query("p")
	assert.Equal(t, "First\nSecond", p.InnerText())

	body := snap.Query("body").InnerText()
	assert.Contains(t, body, "Home\n")
	assert.Contains(t, body, "\nWeekly sync\n")
	assert.NotContains(t, body, "var x")
}

func TestElement_HTML(t *testing.T) {
	snap, err := Parse("u", `<div id="a"><b>bold</b> text</div>`)
	require.NoError(t, err)

	div := snap.Query("#a")
	assert.Equal(t, `<div id="a"><b>bold</b> text</div>`, div.OuterHTML())
	assert.Equal(t, `<b>bold</b> text`, div.InnerHTML())
}

func TestElement_Closest(t *testing.T) {
	snap, err := Parse("u", `<div data-id="f1" class="tile"><div><span data-tooltip="Folder">Folder</span></div></div>`)
	require.NoError(t, err)

	span := snap.Query("span")
	tile := span.Closest("[data-id]")
	require.NotNil(t, tile)
	id, _ := tile.Attr("data-id")
	assert.Equal(t, "f1", id)

	assert.Equal(t, span.OuterHTML(), span.Closest("[data-tooltip]").OuterHTML())
	assert.Nil(t, span.Closest("table"))
}
