package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atmx/position-grid/internal/grid"
	"github.com/atmx/position-grid/internal/metrics"
	"github.com/atmx/position-grid/internal/model"
	"github.com/atmx/position-grid/internal/paste"
	"github.com/atmx/position-grid/internal/store"
	"github.com/atmx/position-grid/internal/submit"
)

// maxWorkbookSize caps an uploaded .xlsx.
const maxWorkbookSize = 10 << 20

// storeCollaborators routes every asset type's updates and creates to the
// positions store.
func storeCollaborators(st store.Store) submit.Collaborators {
	update := submit.UpdaterFunc(st.UpdateQuantity)
	create := submit.CreatorFunc(func(ctx context.Context, req submit.CreateRequest) error {
		p := positionFrom(model.NewPositionEntry{
			Identifier:   req.Identifier,
			Name:         req.Name,
			PurchaseDate: req.PurchaseDate,
			AssetType:    req.AssetType,
			AccountID:    req.AccountID,
			Quantity:     req.Quantity,
			CostBasis:    req.CostBasis,
		})
		return st.CreatePosition(ctx, &p)
	})

	collab := submit.Collaborators{
		Updaters: make(map[model.AssetType]submit.Updater, len(model.AssetTypes)),
		Creators: make(map[model.AssetType]submit.Creator, len(model.AssetTypes)),
	}
	for _, t := range model.AssetTypes {
		collab.Updaters[t] = update
		collab.Creators[t] = create
	}
	return collab
}

// progressFunc broadcasts each completed entry to WebSocket clients.
func (s *Service) progressFunc(coordinator string) func(submit.Progress) {
	return func(p submit.Progress) {
		if s.wsHub == nil {
			return
		}
		s.wsHub.Broadcast(WSMessage{
			Type:        MessageProgress,
			Coordinator: coordinator,
			RunID:       p.RunID,
			Current:     p.Current,
			Total:       p.Total,
			Key:         p.Key,
			Status:      p.Status,
		})
	}
}

// --- Paste and import ---

// PasteRequest is the JSON body for POST /api/v1/paste.
type PasteRequest struct {
	Text            string `json:"text"`
	TargetAccountID string `json:"target_account_id"`
}

// Paste handles POST /api/v1/paste. The grid query parameters select the
// row order that quantity-only pastes map onto.
func (s *Service) Paste(w http.ResponseWriter, r *http.Request) {
	var req PasteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.applyPaste(w, r, func(m *grid.Matrix, accounts []model.Account) paste.Result {
		return s.parser.Parse(req.Text, m.Rows, accounts, req.TargetAccountID)
	})
}

// Import handles POST /api/v1/import with a multipart .xlsx upload in the
// "file" field. The first sheet is applied like a paste.
func (s *Service) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWorkbookSize)
	if err := r.ParseMultipartForm(maxWorkbookSize); err != nil {
		writeError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	records, err := paste.ReadWorkbook(file)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	target := r.FormValue("target_account_id")
	s.applyPaste(w, r, func(m *grid.Matrix, accounts []model.Account) paste.Result {
		return s.parser.ParseRecords(records, m.Rows, accounts, target)
	})
}

func (s *Service) applyPaste(w http.ResponseWriter, r *http.Request, apply func(*grid.Matrix, []model.Account) paste.Result) {
	opts, err := parseGridOptions(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := s.load(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	opts.NewPositions = s.newPositions.List()
	m := grid.Build(snap.positions, snap.accounts, opts)

	res := apply(m, snap.accounts)
	s.observe()

	metrics.PasteLines.WithLabelValues("draft").Add(float64(res.AppliedToDrafts))
	metrics.PasteLines.WithLabelValues("new_position").Add(float64(res.AppliedToNewPositions))
	metrics.PasteLines.WithLabelValues("failed").Add(float64(res.FailedLines))
	slog.Info("paste applied",
		"drafts", res.AppliedToDrafts,
		"new_positions", res.AppliedToNewPositions,
		"failed", res.FailedLines,
		"header", res.HeaderDetected,
	)
	writeJSON(w, http.StatusOK, res)
}

// --- Submission ---

// SubmitUpdates handles POST /api/v1/submit/updates, persisting every
// pending draft.
func (s *Service) SubmitUpdates(w http.ResponseWriter, r *http.Request) {
	if _, err := s.load(r.Context()); err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	entries := submit.EntriesFromDrafts(s.drafts.ChangedRows())
	s.run(w, r, coordinatorUpdates, s.updates, func(ctx context.Context) (submit.Summary, error) {
		return s.updates.SubmitAll(ctx, entries)
	})
}

// RetryUpdates handles POST /api/v1/submit/updates/retry
func (s *Service) RetryUpdates(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, coordinatorUpdates, s.updates, s.updates.RetryFailed)
}

// SubmitImports handles POST /api/v1/submit/imports, creating every
// proposed lot.
func (s *Service) SubmitImports(w http.ResponseWriter, r *http.Request) {
	if _, err := s.load(r.Context()); err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	entries := submit.EntriesFromNewPositions(s.newPositions.List())
	s.run(w, r, coordinatorImports, s.imports, func(ctx context.Context) (submit.Summary, error) {
		return s.imports.SubmitAll(ctx, entries)
	})
}

// RetryImports handles POST /api/v1/submit/imports/retry
func (s *Service) RetryImports(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, coordinatorImports, s.imports, s.imports.RetryFailed)
}

func (s *Service) run(w http.ResponseWriter, r *http.Request, name string, c *submit.Coordinator, fn func(context.Context) (submit.Summary, error)) {
	sum, err := fn(r.Context())
	if errors.Is(err, submit.ErrBusy) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.observe()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        MessageSummary,
			Coordinator: name,
			RunID:       sum.RunID,
			Summary:     &sum,
		})
	}
	writeJSON(w, http.StatusOK, RunResponse{Summary: sum, Results: c.Results()})
}

// RunResponse is the outcome of a submission run.
type RunResponse struct {
	Summary submit.Summary  `json:"summary"`
	Results []submit.Result `json:"results"`
}

// CoordinatorStatus is a snapshot of one coordinator.
type CoordinatorStatus struct {
	State      submit.State    `json:"state"`
	Progress   submit.Progress `json:"progress"`
	Results    []submit.Result `json:"results"`
	FailedKeys []string        `json:"failed_keys"`
}

// StatusResponse is the JSON body of GET /api/v1/submit/status.
type StatusResponse struct {
	Updates CoordinatorStatus `json:"updates"`
	Imports CoordinatorStatus `json:"imports"`
}

// GetStatus handles GET /api/v1/submit/status
func (s *Service) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Updates: statusOf(s.updates),
		Imports: statusOf(s.imports),
	})
}

func statusOf(c *submit.Coordinator) CoordinatorStatus {
	return CoordinatorStatus{
		State:      c.State(),
		Progress:   c.Progress(),
		Results:    c.Results(),
		FailedKeys: c.FailedKeys(),
	}
}
