package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<html><body>
<ul class="items">
  <li class="a first">one</li>
  <li class="b">t<b>w</b>o</li>
  <li>three</li>
</ul>
<a href="/x" title="link">anchor</a>
</body></html>`

func TestFindReturnsFirstMatch(t *testing.T) {
	t.Parallel()

	doc, err := Parse(sampleDoc)
	require.NoError(t, err)

	li, ok := doc.Find("ul.items li")
	require.True(t, ok)
	assert.Equal(t, "one", li.Text())

	_, ok = doc.Find("table")
	assert.False(t, ok)
}

func TestFindAllKeepsDocumentOrder(t *testing.T) {
	t.Parallel()

	doc, err := Parse(sampleDoc)
	require.NoError(t, err)

	items := doc.FindAll("li")
	require.Len(t, items, 3)
	assert.Equal(t, "one", items[0].Text())
	assert.Equal(t, "two", items[1].Text())
	assert.Equal(t, "three", items[2].Text())
	assert.Empty(t, doc.FindAll("article"))
}

func TestAttrDistinguishesMissingFromEmpty(t *testing.T) {
	t.Parallel()

	doc, err := Parse(`<a title="">x</a><b>y</b>`)
	require.NoError(t, err)

	a, ok := doc.Find("a")
	require.True(t, ok)
	v, present := a.Attr("title")
	assert.True(t, present)
	assert.Empty(t, v)

	b, ok := doc.Find("b")
	require.True(t, ok)
	_, present = b.Attr("title")
	assert.False(t, present)
}

func TestClasses(t *testing.T) {
	t.Parallel()

	doc, err := Parse(sampleDoc)
	require.NoError(t, err)

	items := doc.FindAll("li")
	assert.Equal(t, []string{"a", "first"}, Classes(items[0]))
	assert.Equal(t, []string{}, Classes(items[2]))
}
