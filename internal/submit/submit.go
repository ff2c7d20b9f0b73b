// Package submit persists pending grid edits through injected per-asset
// collaborators, one entry at a time, tracking success and failure per
// entry so that only the failed subset needs retrying.
//
// A run moves Idle → Submitting → Completed or PartiallyFailed. Progress is
// reported after every entry completes, in completion order.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/position-grid/internal/draft"
	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/metrics"
	"github.com/atmx/position-grid/internal/model"
)

var (
	ErrBusy           = errors.New("submit: a submission run is already in progress")
	ErrNoCollaborator = errors.New("submit: no collaborator for asset type")
)

// --- Collaborators ---

// CreateRequest describes a lot to create in an account.
type CreateRequest struct {
	AccountID    string          `json:"account_id"`
	Identifier   string          `json:"identifier"`
	Name         string          `json:"name"`
	AssetType    model.AssetType `json:"asset_type"`
	PurchaseDate time.Time       `json:"purchase_date"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
}

// Updater changes the quantity of an existing position.
type Updater interface {
	UpdateQuantity(ctx context.Context, positionID string, quantity decimal.Decimal) error
}

// Creator creates a new lot.
type Creator interface {
	CreatePosition(ctx context.Context, req CreateRequest) error
}

// UpdaterFunc adapts a function to Updater.
type UpdaterFunc func(ctx context.Context, positionID string, quantity decimal.Decimal) error

func (f UpdaterFunc) UpdateQuantity(ctx context.Context, positionID string, quantity decimal.Decimal) error {
	return f(ctx, positionID, quantity)
}

// CreatorFunc adapts a function to Creator.
type CreatorFunc func(ctx context.Context, req CreateRequest) error

func (f CreatorFunc) CreatePosition(ctx context.Context, req CreateRequest) error {
	return f(ctx, req)
}

// Collaborators holds one updater and one creator per asset type.
type Collaborators struct {
	Updaters map[model.AssetType]Updater
	Creators map[model.AssetType]Creator
}

// --- Entries ---

// Kind distinguishes quantity updates from lot creation.
type Kind string

const (
	KindUpdate Kind = "update"
	KindCreate Kind = "create"
)

// Entry is one unit of work. Key identifies it across runs.
type Entry struct {
	Key       string          `json:"key"`
	Kind      Kind            `json:"kind"`
	AssetType model.AssetType `json:"asset_type"`

	// Update fields.
	Cell       lot.CellKey     `json:"-"`
	PositionID string          `json:"position_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`

	// Create fields.
	Slot   lot.EntryKey  `json:"-"`
	Create CreateRequest `json:"create"`
}

// EntriesFromDrafts converts changed draft rows into update entries.
func EntriesFromDrafts(rows []draft.ChangedRow) []Entry {
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{
			Key:        r.CellKey.String(),
			Kind:       KindUpdate,
			AssetType:  r.Position.AssetType,
			Cell:       r.CellKey,
			PositionID: r.Position.ID,
			Quantity:   r.NewQuantity,
		}
	}
	return entries
}

// EntriesFromNewPositions converts proposals into create entries.
func EntriesFromNewPositions(list []model.NewPositionEntry) []Entry {
	entries := make([]Entry, len(list))
	for i, e := range list {
		slot := lot.EntryOf(e)
		entries[i] = Entry{
			Key:       slot.String(),
			Kind:      KindCreate,
			AssetType: e.AssetType,
			Slot:      slot,
			Quantity:  e.Quantity,
			Create: CreateRequest{
				AccountID:    e.AccountID,
				Identifier:   e.Identifier,
				Name:         e.Name,
				AssetType:    e.AssetType,
				PurchaseDate: e.PurchaseDate,
				Quantity:     e.Quantity,
				CostBasis:    e.CostBasis,
			},
		}
	}
	return entries
}

// --- State ---

// State is the coordinator's run state.
type State string

const (
	StateIdle            State = "idle"
	StateSubmitting      State = "submitting"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
)

// Status is the outcome of one entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is the outcome of one entry in the latest run.
type Result struct {
	Key    string `json:"key"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Progress is emitted after each entry completes.
type Progress struct {
	RunID   string `json:"run_id"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Key     string `json:"key"`
	Status  Status `json:"status"`
}

// Summary aggregates a run.
type Summary struct {
	RunID        string   `json:"run_id"`
	State        State    `json:"state"`
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	FailedKeys   []string `json:"failed_keys"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency bounds the number of in-flight calls. Values below 1
// mean sequential.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n < 1 {
			n = 1
		}
		c.concurrency = n
	}
}

// WithProgress registers a callback invoked after each entry completes.
// The callback runs with the coordinator locked and must not call back
// into it.
func WithProgress(fn func(Progress)) Option {
	return func(c *Coordinator) { c.onProgress = fn }
}

// WithDrafts settles successful update entries against the draft overlay.
func WithDrafts(d *draft.Drafts) Option {
	return func(c *Coordinator) { c.drafts = d }
}

// WithNewPositions settles successful create entries against the
// new-position overlay.
func WithNewPositions(n *draft.NewPositions) Option {
	return func(c *Coordinator) { c.newPositions = n }
}

// WithName labels the coordinator's metrics and logs.
func WithName(name string) Option {
	return func(c *Coordinator) { c.name = name }
}

// Coordinator runs submission batches.
type Coordinator struct {
	collab       Collaborators
	concurrency  int
	onProgress   func(Progress)
	drafts       *draft.Drafts
	newPositions *draft.NewPositions
	name         string

	mu       sync.Mutex
	state    State
	progress Progress
	results  map[string]Result
	order    []string
	failed   []Entry
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(collab Collaborators, opts ...Option) *Coordinator {
	c := &Coordinator{
		collab:      collab,
		concurrency: 1,
		name:        "default",
		state:       StateIdle,
		results:     make(map[string]Result),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitAll attempts every entry once, in the given order. A failure never
// stops the run; failed entries are kept for RetryFailed. If ctx is
// cancelled, entries not yet started are recorded as failed.
func (c *Coordinator) SubmitAll(ctx context.Context, entries []Entry) (Summary, error) {
	entries = dedupe(entries)
	runID := uuid.New().String()

	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return Summary{}, ErrBusy
	}
	c.state = StateSubmitting
	c.progress = Progress{RunID: runID, Total: len(entries)}
	c.results = make(map[string]Result, len(entries))
	c.order = make([]string, len(entries))
	for i, e := range entries {
		c.order[i] = e.Key
		c.results[e.Key] = Result{Key: e.Key, Status: StatusPending}
	}
	c.mu.Unlock()

	start := time.Now()
	errs := make([]error, len(entries))

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i := range entries {
		e := entries[i]
		if err := ctx.Err(); err != nil {
			errs[i] = err
			c.complete(runID, e, err)
			continue
		}
		g.Go(func() error {
			// Go may have waited for a slot; the run could be cancelled by now.
			err := ctx.Err()
			if err == nil {
				err = c.invoke(ctx, e)
			}
			errs[i] = err
			c.complete(runID, e, err)
			return nil
		})
	}
	_ = g.Wait()

	// Summaries list failures in submission order regardless of completion order.
	sum := Summary{RunID: runID, FailedKeys: []string{}}
	var failed []Entry
	for i, e := range entries {
		if errs[i] != nil {
			sum.FailedCount++
			sum.FailedKeys = append(sum.FailedKeys, e.Key)
			failed = append(failed, e)
			continue
		}
		sum.SuccessCount++
	}
	sum.State = StateCompleted
	if sum.FailedCount > 0 {
		sum.State = StatePartiallyFailed
	}

	c.mu.Lock()
	c.state = sum.State
	c.failed = failed
	c.mu.Unlock()

	metrics.SubmissionRunDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	metrics.SubmissionRuns.WithLabelValues(c.name, string(sum.State)).Inc()
	slog.Info("submission run finished",
		"coordinator", c.name,
		"run_id", runID,
		"success", sum.SuccessCount,
		"failed", sum.FailedCount,
		"duration", time.Since(start).String(),
	)
	return sum, nil
}

// RetryFailed re-submits only the entries that failed in the latest run.
func (c *Coordinator) RetryFailed(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return Summary{}, ErrBusy
	}
	retry := append([]Entry(nil), c.failed...)
	c.mu.Unlock()

	return c.SubmitAll(ctx, retry)
}

func (c *Coordinator) invoke(ctx context.Context, e Entry) error {
	switch e.Kind {
	case KindUpdate:
		u, ok := c.collab.Updaters[e.AssetType]
		if !ok || u == nil {
			return fmt.Errorf("%w: update %s", ErrNoCollaborator, e.AssetType)
		}
		return u.UpdateQuantity(ctx, e.PositionID, e.Quantity)
	case KindCreate:
		cr, ok := c.collab.Creators[e.AssetType]
		if !ok || cr == nil {
			return fmt.Errorf("%w: create %s", ErrNoCollaborator, e.AssetType)
		}
		return cr.CreatePosition(ctx, e.Create)
	}
	return fmt.Errorf("submit: unknown entry kind %q", e.Kind)
}

// complete records one entry's outcome, settles its overlay entry on
// success, and emits progress.
func (c *Coordinator) complete(runID string, e Entry, err error) {
	res := Result{Key: e.Key, Status: StatusSuccess}
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		slog.Warn("submission entry failed",
			"coordinator", c.name,
			"run_id", runID,
			"key", e.Key,
			"kind", string(e.Kind),
			"err", err,
		)
	} else {
		c.settle(e)
	}
	metrics.SubmissionEntries.WithLabelValues(c.name, string(e.Kind), string(e.AssetType), string(res.Status)).Inc()

	c.mu.Lock()
	c.results[e.Key] = res
	c.progress.Current++
	p := c.progress
	p.Key = e.Key
	p.Status = res.Status
	if c.onProgress != nil {
		// Called under the lock so observers see Current strictly increasing.
		c.onProgress(p)
	}
	c.mu.Unlock()
}

// settle removes the overlay entry the successful submission came from,
// unless it was edited again while the run was in flight.
func (c *Coordinator) settle(e Entry) {
	switch e.Kind {
	case KindUpdate:
		if c.drafts != nil {
			c.drafts.ClearIf(e.Cell, e.Quantity)
		}
	case KindCreate:
		if c.newPositions != nil {
			c.newPositions.RemoveIf(e.Slot, e.Quantity)
		}
	}
}

// --- Queries ---

// State returns the current run state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns the latest progress snapshot.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Results returns per-entry results of the latest run in submission order.
func (c *Coordinator) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Result, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.results[k])
	}
	return out
}

// IsFailed reports whether key failed in the latest run.
func (c *Coordinator) IsFailed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[key].Status == StatusFailed
}

// FailedKeys returns the keys retained for retry.
func (c *Coordinator) FailedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, len(c.failed))
	for i, e := range c.failed {
		keys[i] = e.Key
	}
	return keys
}

// dedupe keeps the first entry per key so each key is attempted once per run.
func dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		out = append(out, e)
	}
	return out
}
