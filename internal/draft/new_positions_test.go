package draft

import (
	"testing"
	"time"

	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

func entry(identifier, account string, qty float64) model.NewPositionEntry {
	return model.NewPositionEntry{
		Identifier:   identifier,
		Name:         identifier,
		PurchaseDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		AssetType:    model.AssetSecurity,
		AccountID:    account,
		AccountName:  "Account " + account,
		Quantity:     d(qty),
	}
}

func TestNewPositions_ZeroRemoves(t *testing.T) {
	s := NewNewPositions()
	s.Set(entry("AAPL", "a", 5))

	v, ok := s.Value("AAPL", "2024-03-01", "a")
	if !ok || !v.Equal(d(5)) {
		t.Fatalf("expected proposal of 5, got %s (%v)", v, ok)
	}

	s.Set(entry("AAPL", "a", 0))
	if _, ok := s.Value("AAPL", "2024-03-01", "a"); ok {
		t.Error("expected proposal to be removed by zero quantity")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
}

func TestNewPositions_NegativeRemoves(t *testing.T) {
	s := NewNewPositions()
	s.Set(entry("AAPL", "a", 5))
	s.Set(entry("AAPL", "a", -1))
	if s.Len() != 0 {
		t.Errorf("expected negative quantity to remove, got %d entries", s.Len())
	}
}

func TestNewPositions_UpsertKeepsOrder(t *testing.T) {
	s := NewNewPositions()
	s.Set(entry("MSFT", "a", 1))
	s.Set(entry("AAPL", "b", 2))
	s.Set(entry("MSFT", "a", 3))

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(list))
	}
	if list[0].Identifier != "MSFT" || !list[0].Quantity.Equal(d(3)) {
		t.Errorf("expected updated MSFT first, got %+v", list[0])
	}
	if list[1].Identifier != "AAPL" {
		t.Errorf("expected AAPL second, got %+v", list[1])
	}
}

func TestNewPositions_RemoveIfAndTotals(t *testing.T) {
	s := NewNewPositions()
	e := entry("BTC", "w", 0.25)
	e.AssetType = model.AssetCrypto
	s.Set(e)
	s.Set(entry("AAPL", "a", 1))

	tot := s.Totals()
	if tot.Count != 2 || tot.ByAssetType[model.AssetCrypto] != 1 || tot.ByAssetType[model.AssetSecurity] != 1 {
		t.Errorf("unexpected totals: %+v", tot)
	}

	key := lot.EntryOf(e)
	if s.RemoveIf(key, d(1)) {
		t.Error("RemoveIf must not remove a proposal holding another quantity")
	}
	if !s.RemoveIf(key, d(0.25)) {
		t.Error("RemoveIf should remove matching proposal")
	}
	s.ClearAll()
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
}

func TestNewPositions_ReconcileDropsOccupiedSlots(t *testing.T) {
	s := NewNewPositions()
	s.Set(entry("AAPL", "a", 5))
	s.Set(entry("MSFT", "a", 2))

	created := model.Position{
		ID:           "p1",
		AccountID:    "a",
		Identifier:   "AAPL",
		AssetType:    model.AssetSecurity,
		PurchaseDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Quantity:     d(5),
	}
	if dropped := s.Reconcile([]model.Position{created}); dropped != 1 {
		t.Errorf("expected 1 dropped proposal, got %d", dropped)
	}
	if _, ok := s.Value("MSFT", "2024-03-01", "a"); !ok {
		t.Error("expected MSFT proposal to survive")
	}
}
