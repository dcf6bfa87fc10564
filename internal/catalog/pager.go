package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/markup"
)

// Separators include Unicode space separators such as the no-break space
// that &nbsp; decodes to.
var pagerPattern = regexp.MustCompile(`^Page[\s\p{Zs}]+[0-9,]+[\s\p{Zs}]+of[\s\p{Zs}]+([0-9,]+)[\s\p{Zs}]*\+?$`)

// ResolvePageCount extracts Y from pagination text of the form "Page X of Y".
// Digits may carry comma thousand separators and a trailing "+" is allowed.
func ResolvePageCount(pagerText string) (int, error) {
	txt := strings.TrimSpace(pagerText)
	if txt == "" {
		return 0, ErrEmptyPagerText
	}
	m := pagerPattern.FindStringSubmatch(txt)
	if m == nil {
		return 0, fmt.Errorf("%w: could not extract pages count from string: %s", ErrInvalidPagerText, txt)
	}
	total, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || total <= 0 {
		return 0, fmt.Errorf("%w: page count must be a positive integer in string: %s", ErrInvalidPagerText, txt)
	}
	return total, nil
}

// PagerText returns the text of the pagination control in doc.
func PagerText(doc markup.Node) (string, error) {
	node, ok := doc.Find(PagerSelector)
	if !ok {
		return "", fmt.Errorf("%w: can't find %s", ErrMissingPaginationControl, PagerSelector)
	}
	return node.Text(), nil
}
