package draft

import (
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

type proposal struct {
	entry model.NewPositionEntry
	seq   uint64
}

// NewPositionTotals summarizes the pending proposals.
type NewPositionTotals struct {
	Count       int                     `json:"count"`
	ByAssetType map[model.AssetType]int `json:"by_asset_type"`
}

// NewPositions maps empty (identifier, purchase date, account) slots to
// proposed quantities. It does not check that the slot is empty; callers
// only write to cells without a position.
type NewPositions struct {
	mu      sync.RWMutex
	entries map[lot.EntryKey]proposal
	nextSeq uint64
}

// NewNewPositions creates an empty new-position store.
func NewNewPositions() *NewPositions {
	return &NewPositions{entries: make(map[lot.EntryKey]proposal)}
}

// Set upserts a proposal. A quantity of zero or less removes it.
func (s *NewPositions) Set(e model.NewPositionEntry) {
	key := lot.EntryOf(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !e.Quantity.IsPositive() {
		delete(s.entries, key)
		return
	}
	seq := s.nextSeq
	if existing, ok := s.entries[key]; ok {
		seq = existing.seq
	} else {
		s.nextSeq++
	}
	s.entries[key] = proposal{entry: e, seq: seq}
}

// Value returns the proposed quantity for a slot.
func (s *NewPositions) Value(identifier, purchaseDate, accountID string) (decimal.Decimal, bool) {
	return s.ValueOf(lot.EntryKey{Identifier: identifier, PurchaseDate: purchaseDate, AccountID: accountID})
}

// ValueOf returns the proposed quantity for a slot key.
func (s *NewPositions) ValueOf(key lot.EntryKey) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.entries[key]
	if !ok {
		return decimal.Zero, false
	}
	return p.entry.Quantity, true
}

// Remove deletes the proposal for one slot.
func (s *NewPositions) Remove(key lot.EntryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// RemoveIf deletes the proposal for key only if it still holds quantity.
func (s *NewPositions) RemoveIf(key lot.EntryKey, quantity decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[key]
	if !ok || !p.entry.Quantity.Equal(quantity) {
		return false
	}
	delete(s.entries, key)
	return true
}

// ClearAll removes every proposal.
func (s *NewPositions) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[lot.EntryKey]proposal)
}

// Len returns the number of proposals.
func (s *NewPositions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns the proposals in the order they were first entered.
func (s *NewPositions) List() []model.NewPositionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]proposal, 0, len(s.entries))
	for _, p := range s.entries {
		list = append(list, p)
	}
	slices.SortFunc(list, func(a, b proposal) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	out := make([]model.NewPositionEntry, len(list))
	for i, p := range list {
		out[i] = p.entry
	}
	return out
}

// Totals counts proposals overall and per asset type.
func (s *NewPositions) Totals() NewPositionTotals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := NewPositionTotals{ByAssetType: make(map[model.AssetType]int)}
	for _, p := range s.entries {
		t.Count++
		t.ByAssetType[p.entry.AssetType]++
	}
	return t
}

// Reconcile drops proposals whose slot is now occupied by a real position
// in the fresh list. It returns the number dropped.
func (s *NewPositions) Reconcile(positions []model.Position) int {
	occupied := make(map[lot.EntryKey]bool, len(positions))
	for _, p := range positions {
		occupied[lot.CellOf(p).Entry()] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for k := range s.entries {
		if occupied[k] {
			delete(s.entries, k)
			dropped++
		}
	}
	return dropped
}
