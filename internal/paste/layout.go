package paste

import (
	"strings"

	"github.com/atmx/position-grid/internal/input"
)

// layout maps logical columns to field indexes; -1 means absent.
type layout struct {
	identifier int
	quantity   int
	date       int
	price      int
	cost       int
}

var headerNames = map[string][]string{
	"identifier": {"ticker", "symbol", "identifier", "isin", "code", "asset"},
	"quantity":   {"qty", "quantity", "shares", "units", "amount", "holding", "holdings"},
	"date":       {"date", "purchase date", "purchase_date", "purchased", "acquired", "trade date"},
	"price":      {"price", "unit price", "price per unit"},
	"cost":       {"cost", "cost basis", "cost_basis", "total cost", "book value"},
}

func positionalLayout(quantityOnly bool) layout {
	if quantityOnly {
		return layout{identifier: -1, quantity: 0, date: -1, price: -1, cost: -1}
	}
	return layout{identifier: 0, quantity: 1, date: -1, price: -1, cost: -1}
}

// headerLayout maps a candidate header row by column names. It only
// succeeds when the names identify every column the paste mode needs.
func headerLayout(fields []string, quantityOnly bool) (layout, bool) {
	l := layout{identifier: -1, quantity: -1, date: -1, price: -1, cost: -1}
	for i, f := range fields {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(f), "\"'`"))
		switch {
		case l.identifier < 0 && matches(name, "identifier"):
			l.identifier = i
		case l.quantity < 0 && matches(name, "quantity"):
			l.quantity = i
		case l.date < 0 && matches(name, "date"):
			l.date = i
		case l.price < 0 && matches(name, "price"):
			l.price = i
		case l.cost < 0 && matches(name, "cost"):
			l.cost = i
		}
	}
	if l.quantity < 0 {
		return l, false
	}
	if !quantityOnly && l.identifier < 0 {
		return l, false
	}
	return l, true
}

func matches(name, column string) bool {
	for _, n := range headerNames[column] {
		if name == n {
			return true
		}
	}
	return false
}

// withOptionalColumns extends a positional layout past identifier and
// quantity using the first wide record: a third column that reads as a
// date is the purchase date, and numeric columns after it are price and
// cost basis. Anything else is ignored.
func (l layout) withOptionalColumns(records []record) layout {
	for _, rec := range records {
		if len(rec.fields) <= 2 || rec.err != nil {
			continue
		}
		next := 2
		if input.LooksLikeDate(rec.fields[2]) {
			l.date = 2
			next = 3
		}
		if next < len(rec.fields) && isNumber(rec.fields[next]) {
			l.price = next
			if next+1 < len(rec.fields) && isNumber(rec.fields[next+1]) {
				l.cost = next + 1
			}
		}
		return l
	}
	return l
}
