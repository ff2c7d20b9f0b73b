// Package draft holds pending, unsaved grid edits as overlays on top of
// the rebuilt matrix: Drafts for quantity changes to lots that exist,
// NewPositions for lots an account does not hold yet.
//
// Both stores are safe for concurrent use so that a submission run can
// settle entries while the host keeps serving reads.
package draft

import (
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

// Draft is a pending replacement quantity for an existing position.
type Draft struct {
	Quantity decimal.Decimal `json:"quantity"`
	Position model.Position  `json:"position"`
	seq      uint64
}

// ChangedRow is one draft that differs from its baseline.
type ChangedRow struct {
	CellKey     lot.CellKey     `json:"cell_key"`
	Position    model.Position  `json:"position"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
}

// Delta is the signed quantity change.
func (r ChangedRow) Delta() decimal.Decimal {
	return r.NewQuantity.Sub(r.Position.Quantity)
}

// Totals summarizes the pending drafts.
type Totals struct {
	ChangedCount int                     `json:"changed_count"`
	TotalDelta   decimal.Decimal         `json:"total_delta"` // value change at current unit prices
	ByAssetType  map[model.AssetType]int `json:"by_asset_type"`
}

// Drafts maps existing cells to pending quantities.
type Drafts struct {
	mu      sync.RWMutex
	entries map[lot.CellKey]Draft
	nextSeq uint64
}

// NewDrafts creates an empty draft store.
func NewDrafts() *Drafts {
	return &Drafts{entries: make(map[lot.CellKey]Draft)}
}

// Set upserts a pending quantity. Setting a cell back to its original
// quantity removes the draft.
func (s *Drafts) Set(key lot.CellKey, quantity decimal.Decimal, position model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity.Equal(position.Quantity) {
		delete(s.entries, key)
		return
	}
	seq := s.nextSeq
	if existing, ok := s.entries[key]; ok {
		seq = existing.seq
	} else {
		s.nextSeq++
	}
	s.entries[key] = Draft{Quantity: quantity, Position: position, seq: seq}
}

// Clear removes the draft for one cell.
func (s *Drafts) Clear(key lot.CellKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// ClearIf removes the draft for key only if it still holds quantity.
// It reports whether a draft was removed.
func (s *Drafts) ClearIf(key lot.CellKey, quantity decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.entries[key]
	if !ok || !d.Quantity.Equal(quantity) {
		return false
	}
	delete(s.entries, key)
	return true
}

// ClearAll removes every draft.
func (s *Drafts) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[lot.CellKey]Draft)
}

// Value returns the pending quantity for a cell.
func (s *Drafts) Value(key lot.CellKey) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.entries[key]
	if !ok {
		return decimal.Zero, false
	}
	return d.Quantity, true
}

// Len returns the number of stored drafts.
func (s *Drafts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ChangedRows returns the drafts that differ from their baseline, in the
// order they were first edited.
func (s *Drafts) ChangedRows() []ChangedRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changedLocked()
}

func (s *Drafts) changedLocked() []ChangedRow {
	type ordered struct {
		seq uint64
		row ChangedRow
	}
	list := make([]ordered, 0, len(s.entries))
	for k, d := range s.entries {
		if d.Quantity.Equal(d.Position.Quantity) {
			continue
		}
		list = append(list, ordered{seq: d.seq, row: ChangedRow{CellKey: k, Position: d.Position, NewQuantity: d.Quantity}})
	}
	slices.SortFunc(list, func(a, b ordered) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	rows := make([]ChangedRow, len(list))
	for i, o := range list {
		rows[i] = o.row
	}
	return rows
}

// Totals computes the changed count, the value delta at each position's
// current unit price, and per-asset-type counts.
func (s *Drafts) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := Totals{TotalDelta: decimal.Zero, ByAssetType: make(map[model.AssetType]int)}
	for _, r := range s.changedLocked() {
		t.ChangedCount++
		t.TotalDelta = t.TotalDelta.Add(r.Delta().Mul(r.Position.UnitPrice()))
		t.ByAssetType[r.Position.AssetType]++
	}
	return t
}

// Reconcile re-bases drafts on a freshly fetched position list. Drafts whose
// position vanished are dropped, the rest adopt the fresh baseline, and any
// that now match it are dropped too. It returns the number dropped.
func (s *Drafts) Reconcile(positions []model.Position) int {
	current := make(map[lot.CellKey]model.Position, len(positions))
	for _, p := range positions {
		k := lot.CellOf(p)
		if _, dup := current[k]; !dup {
			current[k] = p
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for k, d := range s.entries {
		p, ok := current[k]
		if !ok || d.Quantity.Equal(p.Quantity) {
			delete(s.entries, k)
			dropped++
			continue
		}
		d.Position = p
		s.entries[k] = d
	}
	return dropped
}
