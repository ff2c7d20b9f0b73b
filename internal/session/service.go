// Package session provides the HTTP handlers that host the grid editing
// core: the pivoted view, the two edit overlays, paste and workbook import,
// and batch submission with retry.
//
// All quantities use shopspring/decimal and travel as JSON strings.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atmx/position-grid/internal/draft"
	"github.com/atmx/position-grid/internal/grid"
	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/metrics"
	"github.com/atmx/position-grid/internal/model"
	"github.com/atmx/position-grid/internal/paste"
	"github.com/atmx/position-grid/internal/store"
	"github.com/atmx/position-grid/internal/submit"
)

// Coordinator names used in metrics, logs and WebSocket messages.
const (
	coordinatorUpdates = "updates"
	coordinatorImports = "imports"
)

// Service owns one editing session: a draft overlay, a new-position overlay
// and one submission coordinator for each. The position list is refetched
// from the store on every request so the matrix is never stale.
type Service struct {
	store        store.Store
	drafts       *draft.Drafts
	newPositions *draft.NewPositions
	parser       *paste.Parser
	updates      *submit.Coordinator
	imports      *submit.Coordinator
	wsHub        *WSHub // optional WebSocket hub for progress broadcasts
}

// NewService creates a session service. Pass nil for hub if WebSocket
// broadcasting is not needed. concurrency bounds in-flight store calls per
// submission run; 1 submits sequentially.
func NewService(st store.Store, hub *WSHub, concurrency int) *Service {
	s := &Service{
		store:        st,
		drafts:       draft.NewDrafts(),
		newPositions: draft.NewNewPositions(),
		wsHub:        hub,
	}
	s.parser = paste.NewParser(s.drafts, s.newPositions)

	collab := storeCollaborators(st)
	s.updates = submit.NewCoordinator(collab,
		submit.WithName(coordinatorUpdates),
		submit.WithConcurrency(concurrency),
		submit.WithDrafts(s.drafts),
		submit.WithProgress(s.progressFunc(coordinatorUpdates)),
	)
	s.imports = submit.NewCoordinator(collab,
		submit.WithName(coordinatorImports),
		submit.WithConcurrency(concurrency),
		submit.WithNewPositions(s.newPositions),
		submit.WithProgress(s.progressFunc(coordinatorImports)),
	)
	return s
}

// snapshot is one fresh read of the store.
type snapshot struct {
	positions []model.Position
	accounts  []model.Account
}

// load fetches positions and accounts and reconciles both overlays
// against them.
func (s *Service) load(ctx context.Context) (snapshot, error) {
	positions, err := s.store.ListPositions(ctx)
	if err != nil {
		return snapshot{}, fmt.Errorf("list positions: %w", err)
	}
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return snapshot{}, fmt.Errorf("list accounts: %w", err)
	}

	droppedDrafts := s.drafts.Reconcile(positions)
	droppedNew := s.newPositions.Reconcile(positions)
	if droppedDrafts > 0 || droppedNew > 0 {
		slog.Info("reconciled overlays",
			"dropped_drafts", droppedDrafts,
			"dropped_new_positions", droppedNew,
		)
	}
	s.observe()
	return snapshot{positions: positions, accounts: accounts}, nil
}

func (s *Service) observe() {
	metrics.PendingEdits.WithLabelValues("drafts").Set(float64(s.drafts.Len()))
	metrics.PendingEdits.WithLabelValues("new_positions").Set(float64(s.newPositions.Len()))
}

// --- Grid ---

// GridResponse is the pivoted view plus the pending overlays on top of it.
type GridResponse struct {
	Matrix            *grid.Matrix                      `json:"matrix"`
	Drafts            map[string]string                 `json:"drafts"` // cell key → pending quantity
	DraftTotals       draft.Totals                      `json:"draft_totals"`
	NewPositions      map[string]model.NewPositionEntry `json:"new_positions"` // entry key → proposal
	NewPositionTotals draft.NewPositionTotals           `json:"new_position_totals"`
	FailedKeys        []string                          `json:"failed_keys"`
}

// GetGrid handles GET /api/v1/grid
func (s *Service) GetGrid(w http.ResponseWriter, r *http.Request) {
	opts, err := parseGridOptions(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := s.load(r.Context())
	if err != nil {
		slog.Error("load failed", "err", err)
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	pending := s.newPositions.List()
	opts.NewPositions = pending
	resp := GridResponse{
		Matrix:            grid.Build(snap.positions, snap.accounts, opts),
		Drafts:            make(map[string]string),
		DraftTotals:       s.drafts.Totals(),
		NewPositions:      make(map[string]model.NewPositionEntry, len(pending)),
		NewPositionTotals: s.newPositions.Totals(),
		FailedKeys:        append(s.updates.FailedKeys(), s.imports.FailedKeys()...),
	}
	for _, row := range s.drafts.ChangedRows() {
		resp.Drafts[row.CellKey.String()] = row.NewQuantity.String()
	}
	for _, e := range pending {
		resp.NewPositions[lot.EntryOf(e).String()] = e
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseGridOptions reads sort, filter and direction query parameters.
func parseGridOptions(r *http.Request) (grid.Options, error) {
	q := r.URL.Query()
	opts := grid.Options{
		SortBy:         grid.RowSort(q.Get("sort")),
		SortDir:        grid.Direction(q.Get("dir")),
		AccountSortBy:  grid.ColumnSort(q.Get("accountSort")),
		AccountSortDir: grid.Direction(q.Get("accountDir")),
		Filters:        grid.Filters{Search: q.Get("search")},
	}

	switch opts.SortBy {
	case "", grid.SortIdentifier, grid.SortPurchaseDate, grid.SortTotalQuantity:
	default:
		return opts, fmt.Errorf("unknown sort %q", opts.SortBy)
	}
	switch opts.AccountSortBy {
	case "", grid.SortValue, grid.SortName, grid.SortInstitution:
	default:
		return opts, fmt.Errorf("unknown accountSort %q", opts.AccountSortBy)
	}
	for _, dir := range []grid.Direction{opts.SortDir, opts.AccountSortDir} {
		if dir != "" && dir != grid.Asc && dir != grid.Desc {
			return opts, fmt.Errorf("direction must be asc or desc, got %q", dir)
		}
	}
	if raw := q.Get("assetTypes"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t := model.AssetType(strings.TrimSpace(part))
			if !t.Valid() {
				return opts, fmt.Errorf("unknown asset type %q", t)
			}
			opts.Filters.AssetTypes = append(opts.Filters.AssetTypes, t)
		}
	}
	return opts, nil
}

// --- Accounts and positions ---

// ListAccounts handles GET /api/v1/accounts
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// CreateAccountRequest is the JSON body for account creation.
type CreateAccountRequest struct {
	Name        string `json:"name"`
	Institution string `json:"institution"`
}

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	account := &model.Account{Name: strings.TrimSpace(req.Name), Institution: strings.TrimSpace(req.Institution)}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	slog.Info("account created", "id", account.ID, "name", account.Name)
	writeJSON(w, http.StatusCreated, account)
}

// ListPositions handles GET /api/v1/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListPositions(r.Context())
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// CreatePosition handles POST /api/v1/positions, creating a lot directly
// without going through the new-position overlay.
func (s *Service) CreatePosition(w http.ResponseWriter, r *http.Request) {
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
	entry, err := req.entry(snap.accounts)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if entry.Quantity.IsZero() {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	p := positionFrom(entry)
	if err := s.store.CreatePosition(r.Context(), &p); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	slog.Info("position created",
		"id", p.ID,
		"account", p.AccountID,
		"identifier", p.Identifier,
		"quantity", p.Quantity.String(),
	)
	writeJSON(w, http.StatusCreated, p)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
