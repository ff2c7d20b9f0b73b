package draft

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func position(id, account, identifier string, typ model.AssetType, qty, value float64) model.Position {
	return model.Position{
		ID:           id,
		AccountID:    account,
		Identifier:   identifier,
		AssetType:    typ,
		PurchaseDate: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Quantity:     d(qty),
		CurrentValue: d(value),
	}
}

func TestDrafts_SetOriginalIsNoOp(t *testing.T) {
	s := NewDrafts()
	p := position("1", "a", "AAPL", model.AssetSecurity, 10, 1000)
	key := lot.CellOf(p)

	s.Set(key, d(12), p)
	s.Set(key, d(10), p)

	if rows := s.ChangedRows(); len(rows) != 0 {
		t.Errorf("expected no changed rows, got %+v", rows)
	}
	if _, ok := s.Value(key); ok {
		t.Error("expected draft to be removed")
	}
	if tot := s.Totals(); tot.ChangedCount != 0 || !tot.TotalDelta.IsZero() {
		t.Errorf("expected zero totals, got %+v", tot)
	}
}

func TestDrafts_DeltaCorrectness(t *testing.T) {
	s := NewDrafts()
	p := position("1", "a", "AAPL", model.AssetSecurity, 10, 1000) // 100 per unit
	key := lot.CellOf(p)

	s.Set(key, d(15), p)

	tot := s.Totals()
	if tot.ChangedCount != 1 {
		t.Errorf("expected changedCount=1, got %d", tot.ChangedCount)
	}
	if !tot.TotalDelta.Equal(d(500)) {
		t.Errorf("expected totalDelta=500, got %s", tot.TotalDelta)
	}
	if tot.ByAssetType[model.AssetSecurity] != 1 {
		t.Errorf("expected 1 security change, got %v", tot.ByAssetType)
	}
	v, ok := s.Value(key)
	if !ok || !v.Equal(d(15)) {
		t.Errorf("expected draft value 15, got %s (%v)", v, ok)
	}
}

func TestDrafts_TotalsAcrossAssetTypes(t *testing.T) {
	s := NewDrafts()
	stock := position("1", "a", "AAPL", model.AssetSecurity, 10, 1000)
	coin := position("2", "w", "BTC", model.AssetCrypto, 2, 60000)
	empty := position("3", "v", "XAU", model.AssetMetal, 0, 0)

	s.Set(lot.CellOf(stock), d(8), stock) // -2 * 100
	s.Set(lot.CellOf(coin), d(2.5), coin) // +0.5 * 30000
	s.Set(lot.CellOf(empty), d(1), empty) // no price, counts but adds nothing

	tot := s.Totals()
	if tot.ChangedCount != 3 {
		t.Errorf("expected 3 changes, got %d", tot.ChangedCount)
	}
	if !tot.TotalDelta.Equal(d(14800)) {
		t.Errorf("expected delta 14800, got %s", tot.TotalDelta)
	}
	if tot.ByAssetType[model.AssetCrypto] != 1 || tot.ByAssetType[model.AssetMetal] != 1 {
		t.Errorf("unexpected per-type counts: %v", tot.ByAssetType)
	}
}

func TestDrafts_ChangedRowsKeepEditOrder(t *testing.T) {
	s := NewDrafts()
	a := position("1", "a", "ZZZ", model.AssetSecurity, 1, 1)
	b := position("2", "a", "AAA", model.AssetSecurity, 1, 1)
	c := position("3", "a", "MMM", model.AssetSecurity, 1, 1)

	s.Set(lot.CellOf(a), d(2), a)
	s.Set(lot.CellOf(b), d(2), b)
	s.Set(lot.CellOf(c), d(2), c)
	s.Set(lot.CellOf(a), d(3), a) // re-edit keeps its slot

	rows := s.ChangedRows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, want := range []string{"1", "2", "3"} {
		if rows[i].Position.ID != want {
			t.Errorf("row %d: expected position %s, got %s", i, want, rows[i].Position.ID)
		}
	}
	if !rows[0].NewQuantity.Equal(d(3)) || !rows[0].Delta().Equal(d(2)) {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
}

func TestDrafts_ClearAndClearIf(t *testing.T) {
	s := NewDrafts()
	p := position("1", "a", "AAPL", model.AssetSecurity, 10, 1000)
	q := position("2", "b", "AAPL", model.AssetSecurity, 10, 1000)
	s.Set(lot.CellOf(p), d(5), p)
	s.Set(lot.CellOf(q), d(6), q)

	if s.ClearIf(lot.CellOf(p), d(4)) {
		t.Error("ClearIf must not remove a draft holding another quantity")
	}
	if !s.ClearIf(lot.CellOf(p), d(5)) {
		t.Error("ClearIf should remove matching draft")
	}
	s.Clear(lot.CellOf(q))
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}

	s.Set(lot.CellOf(p), d(5), p)
	s.ClearAll()
	if s.Len() != 0 {
		t.Errorf("expected empty store after ClearAll, got %d", s.Len())
	}
}

func TestDrafts_Reconcile(t *testing.T) {
	s := NewDrafts()
	kept := position("1", "a", "AAPL", model.AssetSecurity, 10, 1000)
	vanished := position("2", "a", "MSFT", model.AssetSecurity, 5, 500)
	converged := position("3", "b", "AAPL", model.AssetSecurity, 4, 400)

	s.Set(lot.CellOf(kept), d(12), kept)
	s.Set(lot.CellOf(vanished), d(1), vanished)
	s.Set(lot.CellOf(converged), d(7), converged)

	refreshedKept := kept
	refreshedKept.Quantity = d(11)
	refreshedKept.CurrentValue = d(2200)
	refreshedConverged := converged
	refreshedConverged.Quantity = d(7)

	dropped := s.Reconcile([]model.Position{refreshedKept, refreshedConverged})
	if dropped != 2 {
		t.Errorf("expected 2 dropped drafts, got %d", dropped)
	}
	rows := s.ChangedRows()
	if len(rows) != 1 || rows[0].Position.ID != "1" {
		t.Fatalf("expected only the kept draft, got %+v", rows)
	}
	if !rows[0].Position.Quantity.Equal(d(11)) {
		t.Errorf("expected re-based baseline 11, got %s", rows[0].Position.Quantity)
	}
	// 1 unit at the fresh 200/unit price.
	if tot := s.Totals(); !tot.TotalDelta.Equal(d(200)) {
		t.Errorf("expected delta 200 after re-base, got %s", tot.TotalDelta)
	}
}
