package grid

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func pos(id, account, identifier string, typ model.AssetType, date time.Time, qty, value float64) model.Position {
	return model.Position{
		ID:           id,
		AccountID:    account,
		Identifier:   identifier,
		Name:         identifier + " Inc",
		AssetType:    typ,
		PurchaseDate: date,
		Quantity:     d(qty),
		CurrentValue: d(value),
	}
}

func fixture() ([]model.Position, []model.Account) {
	positions := []model.Position{
		pos("1", "broker", "MSFT", model.AssetSecurity, day(2023, 5, 1), 5, 2000),
		pos("2", "broker", "AAPL", model.AssetSecurity, day(2024, 1, 5), 10, 1000),
		pos("3", "ira", "AAPL", model.AssetSecurity, day(2024, 1, 5), 4, 400),
		pos("4", "ira", "AAPL", model.AssetSecurity, day(2022, 7, 9), 3, 300),
		pos("5", "wallet", "BTC", model.AssetCrypto, day(2021, 2, 1), 0.5, 30000),
		pos("6", "vault", "XAU", model.AssetMetal, time.Time{}, 2, 4000),
	}
	accounts := []model.Account{
		{ID: "ira", Name: "Retirement", Institution: "Vanguard"},
		{ID: "broker", Name: "Brokerage", Institution: "Schwab"},
		{ID: "wallet", Name: "Cold Wallet", Institution: "Ledger"},
		{ID: "vault", Name: "Vault", Institution: "Brinks"},
		{ID: "empty", Name: "Unused", Institution: "Nobody"},
	}
	return positions, accounts
}

func rowKeys(m *Matrix) []string {
	var out []string
	for _, r := range m.Rows {
		out = append(out, r.Identifier+"@"+r.Key.PurchaseDate)
	}
	return out
}

func columnIDs(m *Matrix) []string {
	var out []string
	for _, c := range m.Columns {
		out = append(out, c.ID)
	}
	return out
}

func TestBuild_Completeness(t *testing.T) {
	positions, accounts := fixture()
	m := Build(positions, accounts, Options{})

	for _, p := range positions {
		var matches int
		for _, r := range m.Rows {
			if r.Key != lot.KeyOf(p) {
				continue
			}
			matches++
			cell := r.Cells[p.AccountID]
			if !cell.HasPosition || cell.Position == nil || cell.Position.ID != p.ID {
				t.Errorf("position %s: expected populated cell, got %+v", p.ID, cell)
			}
		}
		if matches != 1 {
			t.Errorf("position %s: expected exactly one row, got %d", p.ID, matches)
		}
	}
}

func TestBuild_TotalsConsistency(t *testing.T) {
	positions, accounts := fixture()
	m := Build(positions, accounts, Options{})

	for _, r := range m.Rows {
		sum := decimal.Zero
		for _, c := range m.Columns {
			if cell := r.Cells[c.ID]; cell.Position != nil {
				sum = sum.Add(cell.Position.Quantity)
			}
		}
		if !sum.Equal(r.TotalQuantity) {
			t.Errorf("row %s: total %s != cell sum %s", r.Key, r.TotalQuantity, sum)
		}
	}

	aapl := m.Cell(lot.Key{Identifier: "AAPL", PurchaseDate: "2024-01-05", AssetType: model.AssetSecurity}, "broker")
	if !aapl.HasPosition {
		t.Fatal("expected AAPL broker cell")
	}
	for _, r := range m.Rows {
		if r.Key.Identifier == "AAPL" && r.Key.PurchaseDate == "2024-01-05" && !r.TotalQuantity.Equal(d(14)) {
			t.Errorf("expected AAPL 2024-01-05 total 14, got %s", r.TotalQuantity)
		}
	}
}

func TestBuild_ColumnsRelevanceAndTotals(t *testing.T) {
	positions, accounts := fixture()
	m := Build(positions, accounts, Options{})

	// Value descending by default: wallet 30000, vault 4000, broker 3000, ira 700.
	want := []string{"wallet", "vault", "broker", "ira"}
	if diff := cmp.Diff(want, columnIDs(m)); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if len(m.ColumnTotals) != len(m.Columns) {
		t.Fatalf("expected %d column totals, got %d", len(m.Columns), len(m.ColumnTotals))
	}
	if m.ColumnTotals[2].AccountID != "broker" || !m.ColumnTotals[2].TotalValue.Equal(d(3000)) {
		t.Errorf("unexpected broker total: %+v", m.ColumnTotals[2])
	}
	for _, r := range m.Rows {
		if len(r.Cells) != len(m.Columns) {
			t.Errorf("row %s: expected %d cells, got %d", r.Key, len(m.Columns), len(r.Cells))
		}
	}
}

func TestBuild_ColumnSorts(t *testing.T) {
	positions, accounts := fixture()

	tests := []struct {
		by   ColumnSort
		dir  Direction
		want []string
	}{
		{SortValue, Asc, []string{"ira", "broker", "vault", "wallet"}},
		{SortName, "", []string{"broker", "wallet", "ira", "vault"}},
		{SortName, Desc, []string{"vault", "ira", "wallet", "broker"}},
		{SortInstitution, "", []string{"vault", "wallet", "broker", "ira"}},
	}
	for _, tt := range tests {
		m := Build(positions, accounts, Options{AccountSortBy: tt.by, AccountSortDir: tt.dir})
		if diff := cmp.Diff(tt.want, columnIDs(m)); diff != "" {
			t.Errorf("%s/%s columns mismatch (-want +got):\n%s", tt.by, tt.dir, diff)
		}
	}
}

func TestBuild_RowSorts(t *testing.T) {
	positions, accounts := fixture()

	tests := []struct {
		by   RowSort
		dir  Direction
		want []string
	}{
		{"", "", []string{"AAPL@2022-07-09", "AAPL@2024-01-05", "BTC@2021-02-01", "MSFT@2023-05-01", "XAU@"}},
		{SortIdentifier, Desc, []string{"XAU@", "MSFT@2023-05-01", "BTC@2021-02-01", "AAPL@2022-07-09", "AAPL@2024-01-05"}},
		{SortPurchaseDate, Asc, []string{"XAU@", "BTC@2021-02-01", "AAPL@2022-07-09", "MSFT@2023-05-01", "AAPL@2024-01-05"}},
		{SortTotalQuantity, Desc, []string{"AAPL@2024-01-05", "MSFT@2023-05-01", "AAPL@2022-07-09", "XAU@", "BTC@2021-02-01"}},
	}
	for _, tt := range tests {
		m := Build(positions, accounts, Options{SortBy: tt.by, SortDir: tt.dir})
		if diff := cmp.Diff(tt.want, rowKeys(m)); diff != "" {
			t.Errorf("%s/%s rows mismatch (-want +got):\n%s", tt.by, tt.dir, diff)
		}
	}
}

func TestBuild_TiesBrokenByIdentifier(t *testing.T) {
	positions := []model.Position{
		pos("1", "a", "ZZZ", model.AssetSecurity, day(2024, 1, 1), 5, 5),
		pos("2", "a", "AAA", model.AssetSecurity, day(2024, 1, 1), 5, 5),
		pos("3", "a", "MMM", model.AssetSecurity, day(2024, 1, 1), 5, 5),
	}
	accounts := []model.Account{{ID: "a", Name: "A"}}

	for _, dir := range []Direction{Asc, Desc} {
		m := Build(positions, accounts, Options{SortBy: SortTotalQuantity, SortDir: dir})
		want := []string{"AAA@2024-01-01", "MMM@2024-01-01", "ZZZ@2024-01-01"}
		if diff := cmp.Diff(want, rowKeys(m)); diff != "" {
			t.Errorf("dir %s: rows mismatch (-want +got):\n%s", dir, diff)
		}
	}
}

func TestBuild_FiltersApplyBeforeGrouping(t *testing.T) {
	positions, accounts := fixture()

	m := Build(positions, accounts, Options{Filters: Filters{Search: "aap"}})
	if diff := cmp.Diff([]string{"AAPL@2022-07-09", "AAPL@2024-01-05"}, rowKeys(m)); diff != "" {
		t.Errorf("search rows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"broker", "ira"}, columnIDs(m)); diff != "" {
		t.Errorf("search columns mismatch (-want +got):\n%s", diff)
	}

	m = Build(positions, accounts, Options{Filters: Filters{AssetTypes: []model.AssetType{model.AssetCrypto, model.AssetMetal}}})
	if diff := cmp.Diff([]string{"BTC@2021-02-01", "XAU@"}, rowKeys(m)); diff != "" {
		t.Errorf("asset type rows mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_NewPositionsKeepColumn(t *testing.T) {
	positions, accounts := fixture()
	opts := Options{
		Filters: Filters{Search: "MSFT"},
		NewPositions: []model.NewPositionEntry{{
			Identifier:   "MSFT",
			PurchaseDate: day(2023, 5, 1),
			AssetType:    model.AssetSecurity,
			AccountID:    "empty",
			Quantity:     d(3),
		}},
	}
	m := Build(positions, accounts, opts)
	if diff := cmp.Diff([]string{"broker", "empty"}, columnIDs(m)); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	cell := m.Rows[0].Cells["empty"]
	if cell.HasPosition {
		t.Error("proposal must not populate the cell")
	}
}

func TestBuild_UnknownAccountGetsColumn(t *testing.T) {
	positions := []model.Position{pos("1", "ghost", "AAPL", model.AssetSecurity, day(2024, 1, 5), 1, 100)}
	m := Build(positions, nil, Options{})
	if diff := cmp.Diff([]string{"ghost"}, columnIDs(m)); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_DuplicateLotInAccountFirstWins(t *testing.T) {
	positions := []model.Position{
		pos("1", "a", "AAPL", model.AssetSecurity, day(2024, 1, 5), 1, 100),
		pos("2", "a", "AAPL", model.AssetSecurity, day(2024, 1, 5), 9, 900),
	}
	m := Build(positions, []model.Account{{ID: "a"}}, Options{})
	if len(m.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(m.Rows))
	}
	if m.Rows[0].Cells["a"].Position.ID != "1" || !m.Rows[0].TotalQuantity.Equal(d(1)) {
		t.Errorf("expected first position to win, got %+v", m.Rows[0])
	}
}

func TestBuild_Idempotent(t *testing.T) {
	positions, accounts := fixture()
	opts := Options{SortBy: SortPurchaseDate, SortDir: Desc, AccountSortBy: SortInstitution}

	first := Build(positions, accounts, opts)
	second := Build(positions, accounts, opts)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("rebuild not idempotent (-first +second):\n%s", diff)
	}
}

func TestBuild_Empty(t *testing.T) {
	m := Build(nil, nil, Options{})
	if m.Rows == nil || m.Columns == nil {
		t.Error("expected non-nil empty slices")
	}
	if len(m.Rows) != 0 || len(m.Columns) != 0 || len(m.ColumnTotals) != 0 {
		t.Errorf("expected empty matrix, got %+v", m)
	}
}
