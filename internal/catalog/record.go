// Package catalog turns catalog page markup into validated product records.
//
// Extraction is strict: every field of a Record is validated before the Record
// exists, and each failure carries a kind (see errors.go) so callers can tell
// "skip this fragment" apart from "this page is unusable".
package catalog

// Record is one validated product listing.
type Record struct {
	Title string `json:"title"`
	// Price is the literal displayed string, currency symbol included.
	Price     string `json:"price"`
	Available bool   `json:"in_stock"`
}

// Selectors locating the markup pieces of a catalog page.
const (
	FragmentSelector     = "article.product_pod"
	TitleSelector        = "h3 a"
	TitleAttr            = "title"
	PriceSelector        = ".price_color"
	AvailabilitySelector = "p.availability"
	PagerSelector        = ".pager li.current"
)
