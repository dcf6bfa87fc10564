package catalog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/markup"
)

func parseDoc(t *testing.T, html string) markup.Node {
	t.Helper()
	doc, err := markup.Parse(html)
	require.NoError(t, err)
	return doc
}

func firstFragment(t *testing.T, html string) markup.Node {
	t.Helper()
	fragment, ok := parseDoc(t, html).Find(FragmentSelector)
	require.True(t, ok, "fixture must contain a product fragment")
	return fragment
}

// productHTML renders a product_pod fragment. Empty parts are left out so a
// fixture can drop the title link, the price or the availability marker.
func productHTML(titleLink, price, availability string) string {
	return fmt.Sprintf(`
<article class="product_pod">
  <div class="image_container">
    <a href="the-invention-of-wings_448/index.html"><img src="../media/cache/62/fa/62fa1e72f06f05762db5d9cedf654153.jpg" alt="The Invention of Wings" class="thumbnail"></a>
  </div>
  <p class="star-rating One">
    <i class="icon-star"></i>
    <i class="icon-star"></i>
  </p>
  <h3>%s</h3>
  <div class="product_price">
    %s
    %s
    <form>
      <button type="submit" class="btn btn-primary btn-block" data-loading-text="Adding...">Add to basket</button>
    </form>
  </div>
</article>`, titleLink, price, availability)
}

const (
	wingsLink   = `<a href="the-invention-of-wings_448/index.html" title="The Invention of Wings">The Invention of Wings</a>`
	wingsPrice  = `<p class="price_color">£37.34</p>`
	inStockP    = "<p class=\"instock availability\">\n    <i class=\"icon-ok\"></i>\n        In stock\n</p>"
	outOfStockP = "<p class=\"outofstock availability\">\n    <i class=\"icon-ok\"></i>\n        Out of stock\n</p>"
)

func pageHTML(fragments ...string) string {
	body := ""
	for _, f := range fragments {
		body += "<li>" + f + "</li>\n"
	}
	return `<html><body><section><ol class="row">` + body + `</ol></section>
<ul class="pager"><li class="current">
        Page 1 of 50
    </li><li class="next"><a href="page-2.html">next</a></li></ul>
</body></html>`
}
