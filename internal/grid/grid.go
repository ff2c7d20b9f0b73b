// Package grid pivots a flat position list into a lot-by-account matrix.
//
// Rows are distinct lots (identifier, purchase date, asset type); columns
// are accounts. The matrix is rebuilt from scratch on every change to the
// inputs and is never mutated afterwards: pending edits live in the draft
// overlays, not here.
package grid

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

// RowSort selects the row ordering key.
type RowSort string

const (
	SortIdentifier    RowSort = "identifier"
	SortPurchaseDate  RowSort = "purchaseDate"
	SortTotalQuantity RowSort = "totalQuantity"
)

// ColumnSort selects the column ordering key.
type ColumnSort string

const (
	SortValue       ColumnSort = "value"
	SortName        ColumnSort = "name"
	SortInstitution ColumnSort = "institution"
)

// Direction is a sort direction. The zero value picks the key's default:
// descending for column value, ascending for everything else.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filters narrow the position set before grouping.
type Filters struct {
	// Search is a case-insensitive substring matched against identifier and name.
	Search string `json:"search"`
	// AssetTypes restricts rows to these types; empty means all.
	AssetTypes []model.AssetType `json:"asset_types"`
}

// Options control sorting, filtering and column relevance.
type Options struct {
	SortBy         RowSort    `json:"sort_by"`
	SortDir        Direction  `json:"sort_dir"`
	AccountSortBy  ColumnSort `json:"account_sort_by"`
	AccountSortDir Direction  `json:"account_sort_dir"`
	Filters        Filters    `json:"filters"`

	// NewPositions keeps an account's column alive when its only
	// involvement with the visible rows is a pending proposal.
	NewPositions []model.NewPositionEntry `json:"-"`
}

// Cell is one (row, account) intersection.
type Cell struct {
	Position    *model.Position `json:"position"`
	HasPosition bool            `json:"has_position"`
}

// Row is one lot across all visible accounts.
type Row struct {
	Key           lot.Key         `json:"key"`
	Identifier    string          `json:"identifier"`
	Name          string          `json:"name"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	AssetType     model.AssetType `json:"asset_type"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
	Cells         map[string]Cell `json:"cells"` // account ID → cell
}

// ColumnTotal is the baseline value held in one account across all rows.
type ColumnTotal struct {
	AccountID  string          `json:"account_id"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// Matrix is the pivoted view.
type Matrix struct {
	Rows         []Row           `json:"rows"`
	Columns      []model.Account `json:"columns"`
	ColumnTotals []ColumnTotal   `json:"column_totals"`
}

// Cell returns the cell at (row key, account), or an empty cell when the
// row or account is not part of the matrix.
func (m *Matrix) Cell(key lot.Key, accountID string) Cell {
	for i := range m.Rows {
		if m.Rows[i].Key == key {
			return m.Rows[i].Cells[accountID]
		}
	}
	return Cell{}
}

// Build pivots positions against accounts.
func Build(positions []model.Position, accounts []model.Account, opts Options) *Matrix {
	filtered := filterPositions(positions, opts.Filters)

	// --- Group into rows (input order decides the representative) ---
	rowIndex := make(map[lot.Key]int)
	var rows []Row
	accountValue := make(map[string]decimal.Decimal)

	for i := range filtered {
		p := filtered[i]
		key := lot.KeyOf(p)
		idx, ok := rowIndex[key]
		if !ok {
			idx = len(rows)
			rowIndex[key] = idx
			rows = append(rows, Row{
				Key:          key,
				Identifier:   key.Identifier,
				Name:         p.Name,
				PurchaseDate: p.PurchaseDate,
				AssetType:    p.AssetType,
				Cells:        make(map[string]Cell),
			})
		}
		row := &rows[idx]
		if _, dup := row.Cells[p.AccountID]; dup {
			// One lot per account; the first occurrence wins.
			continue
		}
		if row.Name == "" {
			row.Name = p.Name
		}
		row.Cells[p.AccountID] = Cell{Position: &p, HasPosition: true}
		row.TotalQuantity = row.TotalQuantity.Add(p.Quantity)
		row.TotalValue = row.TotalValue.Add(p.CurrentValue)
		accountValue[p.AccountID] = accountValue[p.AccountID].Add(p.CurrentValue)
	}

	// --- Relevant columns ---
	relevant := make(map[string]bool, len(accountValue))
	for id := range accountValue {
		relevant[id] = true
	}
	for _, e := range opts.NewPositions {
		if e.Quantity.IsPositive() {
			if _, ok := rowIndex[lot.NewKey(e.Identifier, e.PurchaseDate, e.AssetType)]; ok {
				relevant[e.AccountID] = true
			}
		}
	}

	known := make(map[string]bool, len(accounts))
	var columns []model.Account
	for _, a := range accounts {
		if known[a.ID] {
			continue
		}
		known[a.ID] = true
		if relevant[a.ID] {
			columns = append(columns, a)
		}
	}
	// Positions referencing accounts outside the list still get a column.
	for id := range relevant {
		if !known[id] {
			columns = append(columns, model.Account{ID: id})
		}
	}

	sortColumns(columns, accountValue, opts.AccountSortBy, opts.AccountSortDir)

	// --- Fill empty cells ---
	for i := range rows {
		for _, c := range columns {
			if _, ok := rows[i].Cells[c.ID]; !ok {
				rows[i].Cells[c.ID] = Cell{}
			}
		}
	}

	sortRows(rows, opts.SortBy, opts.SortDir)

	totals := make([]ColumnTotal, len(columns))
	for i, c := range columns {
		totals[i] = ColumnTotal{AccountID: c.ID, TotalValue: accountValue[c.ID]}
	}

	if rows == nil {
		rows = []Row{}
	}
	if columns == nil {
		columns = []model.Account{}
	}
	return &Matrix{Rows: rows, Columns: columns, ColumnTotals: totals}
}

func filterPositions(positions []model.Position, f Filters) []model.Position {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		if len(f.AssetTypes) > 0 && !slices.Contains(f.AssetTypes, p.AssetType) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Identifier), search) &&
			!strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func sortRows(rows []Row, by RowSort, dir Direction) {
	desc := dir == Desc
	slices.SortStableFunc(rows, func(a, b Row) int {
		var c int
		switch by {
		case SortPurchaseDate:
			c = a.PurchaseDate.Compare(b.PurchaseDate)
		case SortTotalQuantity:
			c = a.TotalQuantity.Cmp(b.TotalQuantity)
		default:
			c = strings.Compare(a.Identifier, b.Identifier)
		}
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return compareKeys(a.Key, b.Key)
	})
}

func sortColumns(cols []model.Account, value map[string]decimal.Decimal, by ColumnSort, dir Direction) {
	if by == "" {
		by = SortValue
	}
	desc := dir == Desc || (dir == "" && by == SortValue)
	slices.SortStableFunc(cols, func(a, b model.Account) int {
		var c int
		switch by {
		case SortName:
			c = strings.Compare(a.Name, b.Name)
		case SortInstitution:
			c = strings.Compare(a.Institution, b.Institution)
			if c == 0 {
				c = strings.Compare(a.Name, b.Name)
			}
		default:
			c = value[a.ID].Cmp(value[b.ID])
		}
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		if c = strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// compareKeys breaks ties by identifier ascending, then date and asset type
// so that the final order never depends on input order.
func compareKeys(a, b lot.Key) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
