package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/draft"
	"github.com/atmx/position-grid/internal/input"
	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

// --- Drafts ---

// DraftsResponse lists pending quantity changes.
type DraftsResponse struct {
	Rows   []draft.ChangedRow `json:"rows"`
	Totals draft.Totals       `json:"totals"`
}

// GetDrafts handles GET /api/v1/drafts
func (s *Service) GetDrafts(w http.ResponseWriter, r *http.Request) {
	if _, err := s.load(r.Context()); err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, DraftsResponse{Rows: s.drafts.ChangedRows(), Totals: s.drafts.Totals()})
}

// SetDraftRequest is the JSON body for PUT /api/v1/drafts. Quantity is
// raw user input and goes through the same parser as pasted text.
type SetDraftRequest struct {
	CellKey  string `json:"cell_key"`
	Quantity string `json:"quantity"`
}

// SetDraftResponse reports the cell's state after the edit.
type SetDraftResponse struct {
	CellKey  string          `json:"cell_key"`
	Quantity decimal.Decimal `json:"quantity"`
	Original decimal.Decimal `json:"original"`
	Changed  bool            `json:"changed"`
}

// SetDraft handles PUT /api/v1/drafts
func (s *Service) SetDraft(w http.ResponseWriter, r *http.Request) {
	var req SetDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	key, err := lot.ParseCellKey(req.CellKey)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	qty, err := input.ParseQuantity(req.Quantity)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := s.load(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	p, ok := findPosition(snap.positions, key)
	if !ok {
		writeError(w, "cell has no position; propose a new position instead", http.StatusConflict)
		return
	}

	s.drafts.Set(key, qty, p)
	s.observe()
	_, changed := s.drafts.Value(key)
	slog.Info("draft set",
		"cell", key.String(),
		"quantity", qty.String(),
		"changed", changed,
	)
	writeJSON(w, http.StatusOK, SetDraftResponse{
		CellKey:  key.String(),
		Quantity: qty,
		Original: p.Quantity,
		Changed:  changed,
	})
}

// DeleteDrafts handles DELETE /api/v1/drafts. With ?key= it discards one
// cell's draft; without, all drafts.
func (s *Service) DeleteDrafts(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("key")
	if raw == "" {
		s.drafts.ClearAll()
		s.observe()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	key, err := lot.ParseCellKey(raw)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.drafts.Clear(key)
	s.observe()
	w.WriteHeader(http.StatusNoContent)
}

func findPosition(positions []model.Position, key lot.CellKey) (model.Position, bool) {
	for _, p := range positions {
		if lot.CellOf(p) == key {
			return p, true
		}
	}
	return model.Position{}, false
}

// --- New positions ---

// NewPositionsResponse lists pending lot proposals.
type NewPositionsResponse struct {
	Entries []model.NewPositionEntry `json:"entries"`
	Totals  draft.NewPositionTotals  `json:"totals"`
}

// GetNewPositions handles GET /api/v1/new-positions
func (s *Service) GetNewPositions(w http.ResponseWriter, r *http.Request) {
	if _, err := s.load(r.Context()); err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, NewPositionsResponse{Entries: s.newPositions.List(), Totals: s.newPositions.Totals()})
}

// PositionRequest describes a lot in raw user input.
type PositionRequest struct {
	AccountID    string `json:"account_id"`
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	AssetType    string `json:"asset_type"`
	PurchaseDate string `json:"purchase_date"` // optional
	Quantity     string `json:"quantity"`
	CostBasis    string `json:"cost_basis"` // optional
}

// entry validates the request against the known accounts.
func (req PositionRequest) entry(accounts []model.Account) (model.NewPositionEntry, error) {
	e := model.NewPositionEntry{
		Identifier: strings.TrimSpace(req.Identifier),
		Name:       strings.TrimSpace(req.Name),
		AssetType:  model.AssetType(req.AssetType),
		AccountID:  req.AccountID,
	}
	if e.Identifier == "" {
		return e, errors.New("identifier is required")
	}
	if !e.AssetType.Valid() {
		return e, fmt.Errorf("unknown asset type %q", req.AssetType)
	}

	found := false
	for _, a := range accounts {
		if a.ID == req.AccountID {
			e.AccountName, e.Institution = a.Name, a.Institution
			found = true
			break
		}
	}
	if !found {
		return e, fmt.Errorf("unknown account %q", req.AccountID)
	}

	var err error
	if req.PurchaseDate != "" {
		if e.PurchaseDate, err = input.ParseDate(req.PurchaseDate); err != nil {
			return e, err
		}
	}
	if e.Quantity, err = input.ParseQuantity(req.Quantity); err != nil {
		return e, err
	}
	if req.CostBasis != "" {
		if e.CostBasis, err = input.ParseQuantity(req.CostBasis); err != nil {
			return e, fmt.Errorf("cost basis: %w", err)
		}
	}
	return e, nil
}

// SetNewPosition handles PUT /api/v1/new-positions. A zero quantity
// withdraws the proposal.
func (s *Service) SetNewPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	snap, err := s.load(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	e, err := req.entry(snap.accounts)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slot := lot.EntryOf(e)
	for _, p := range snap.positions {
		if lot.CellOf(p).Entry() == slot {
			writeError(w, "account already holds this lot; edit its quantity instead", http.StatusConflict)
			return
		}
	}

	s.newPositions.Set(e)
	s.observe()
	slog.Info("new position proposed",
		"entry", slot.String(),
		"asset_type", string(e.AssetType),
		"quantity", e.Quantity.String(),
	)
	if _, ok := s.newPositions.ValueOf(slot); !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DeleteNewPositions handles DELETE /api/v1/new-positions. With ?key= it
// withdraws one proposal; without, all proposals.
func (s *Service) DeleteNewPositions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("key")
	if raw == "" {
		s.newPositions.ClearAll()
		s.observe()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	key, err := lot.ParseEntryKey(raw)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.newPositions.Remove(key)
	s.observe()
	w.WriteHeader(http.StatusNoContent)
}

// positionFrom turns a proposal into a position to persist. Until a price
// source marks it, a new lot is valued at its cost basis.
func positionFrom(e model.NewPositionEntry) model.Position {
	return model.Position{
		AccountID:    e.AccountID,
		Identifier:   e.Identifier,
		Name:         e.Name,
		AssetType:    e.AssetType,
		PurchaseDate: e.PurchaseDate,
		Quantity:     e.Quantity,
		CurrentValue: e.CostBasis,
	}
}
