package catalog

import (
	"errors"
	"fmt"
)

// Record-level failure kinds. A fragment failing with one of these is skipped
// while the rest of the page is still parsed.
var (
	ErrMissingTitle        = errors.New("missing title")
	ErrMissingAvailability = errors.New("missing availability")
	ErrMissingPrice        = errors.New("missing price")
	ErrInvalidPrice        = errors.New("invalid price")
)

// Availability classifier failure kinds.
var (
	ErrMalformedFragment        = errors.New("malformed fragment")
	ErrInvalidAvailabilityClass = errors.New("invalid availability class")
)

// Page-level failure kinds. These are fatal when they occur on the seed page.
var (
	ErrMissingPaginationControl = errors.New("missing pagination control")
	ErrInvalidPagerText         = errors.New("invalid pager text")
	// ErrEmptyPagerText is the blank-input variant of ErrInvalidPagerText.
	ErrEmptyPagerText = fmt.Errorf("%w: empty string provided", ErrInvalidPagerText)
)

// FieldError reports why one fragment could not become a Record.
type FieldError struct {
	// Kind is one of the sentinel errors above; errors.Is matches against it.
	Kind error
	// Title is set once the title has been extracted.
	Title  string
	Detail string
	// Err is the underlying cause, if any.
	Err error
}

func (e *FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

// Unwrap exposes the cause so errors.Is/As can reach classifier failures.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's kind.
func (e *FieldError) Is(target error) bool {
	return e.Kind == target
}

// Recoverable reports whether err is a record-level failure that should be
// skipped rather than propagated.
func Recoverable(err error) bool {
	return errors.Is(err, ErrMissingTitle) ||
		errors.Is(err, ErrMissingAvailability) ||
		errors.Is(err, ErrMissingPrice) ||
		errors.Is(err, ErrInvalidPrice)
}

// KindName returns a stable label for err's failure kind, used in events and metrics.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrMissingTitle):
		return "missing_title"
	case errors.Is(err, ErrMissingAvailability):
		return "missing_availability"
	case errors.Is(err, ErrMissingPrice):
		return "missing_price"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrMalformedFragment):
		return "malformed_fragment"
	case errors.Is(err, ErrInvalidAvailabilityClass):
		return "invalid_availability_class"
	case errors.Is(err, ErrMissingPaginationControl):
		return "missing_pagination_control"
	case errors.Is(err, ErrInvalidPagerText):
		return "invalid_pager_text"
	default:
		return "unknown"
	}
}

func titleOf(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Title
	}
	return ""
}
