package catalog

import (
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/markup"
)

var availabilityClasses = map[string]bool{
	"instock":    true,
	"outofstock": false,
}

// Classify reports whether the product described by fragment is in stock.
//
// The marker's class list is scanned in document order and the first
// recognized class decides; a marker carrying both "instock" and "outofstock"
// therefore resolves to whichever appears first.
func Classify(fragment markup.Node) (bool, error) {
	marker, ok := fragment.Find(AvailabilitySelector)
	if !ok {
		return false, &FieldError{
			Kind:   ErrMalformedFragment,
			Detail: "missing the root .availability element",
		}
	}
	classes := markup.Classes(marker)
	for _, class := range classes {
		if inStock, known := availabilityClasses[class]; known {
			return inStock, nil
		}
	}
	return false, &FieldError{
		Kind:   ErrInvalidAvailabilityClass,
		Detail: fmt.Sprintf("unexpected availability class in element: %q, expected \"instock\" or \"outofstock\"", classes),
	}
}
