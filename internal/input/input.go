// Package input parses user-typed and pasted values at the edge of the grid.
// Nothing reaches the overlay stores without passing through here.
package input

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmpty       = errors.New("input: value is empty")
	ErrNotNumeric  = errors.New("input: quantity is not a number")
	ErrNegative    = errors.New("input: quantity must not be negative")
	ErrInvalidDate = errors.New("input: unrecognized date")
)

// groupedRegex matches thousands-grouped numbers such as 1,234 or 12,345.67.
var groupedRegex = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// decimalCommaRegex matches a single decimal comma such as 12,5.
var decimalCommaRegex = regexp.MustCompile(`^[+-]?\d+,\d+$`)

// dateLayouts are tried in order. Day-first dotted dates come before the
// US slash form so 02.01.2006 is never read month-first.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"01/02/2006",
	"2006-01-02T15:04:05Z07:00",
}

// ParseQuantity parses a non-negative quantity. Surrounding whitespace,
// thousands separators and a lone decimal comma are tolerated.
func ParseQuantity(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)
	v = strings.ReplaceAll(v, "\u00a0", "")
	v = strings.ReplaceAll(v, " ", "")
	if v == "" {
		return decimal.Zero, ErrEmpty
	}

	switch {
	case groupedRegex.MatchString(v):
		v = strings.ReplaceAll(v, ",", "")
	case decimalCommaRegex.MatchString(v):
		v = strings.Replace(v, ",", ".", 1)
	}

	q, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNotNumeric, s)
	}
	if q.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNegative, q)
	}
	return q, nil
}

// ParseDate parses a purchase date in one of the accepted layouts and
// truncates it to a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, ErrEmpty
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// LooksLikeDate reports whether s parses as a date.
func LooksLikeDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}
