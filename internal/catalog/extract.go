package catalog

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/markup"
)

// Extract validates one product fragment into a Record. Fields are checked in
// a fixed order (title, availability, price) and the first failure is returned.
func Extract(fragment markup.Node) (Record, error) {
	title, err := extractTitle(fragment)
	if err != nil {
		return Record{}, err
	}

	available, err := Classify(fragment)
	if err != nil {
		return Record{}, &FieldError{
			Kind:   ErrMissingAvailability,
			Title:  title,
			Detail: fmt.Sprintf("error determining availability for %q", title),
			Err:    err,
		}
	}

	price, err := extractPrice(fragment, title)
	if err != nil {
		return Record{}, err
	}

	return Record{Title: title, Price: price, Available: available}, nil
}

func extractTitle(fragment markup.Node) (string, error) {
	link, ok := fragment.Find(TitleSelector)
	if !ok {
		return "", &FieldError{
			Kind:   ErrMissingTitle,
			Detail: "missing title element: no 'h3 a' in fragment",
		}
	}
	raw, _ := link.Attr(TitleAttr)
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", &FieldError{
			Kind:   ErrMissingTitle,
			Detail: "missing title attribute on 'h3 a' element",
		}
	}
	return title, nil
}

func extractPrice(fragment markup.Node, title string) (string, error) {
	node, ok := fragment.Find(PriceSelector)
	if !ok {
		return "", &FieldError{
			Kind:   ErrMissingPrice,
			Title:  title,
			Detail: "missing '.price_color' element for price",
		}
	}
	price := strings.TrimSpace(node.Text())
	if price == "" {
		return "", &FieldError{
			Kind:   ErrInvalidPrice,
			Title:  title,
			Detail: "empty price text in '.price_color' element",
		}
	}
	return price, nil
}
