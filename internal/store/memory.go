package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]model.Account
	positions map[string]*model.Position
	order     []string // position IDs in insertion order
	lots      map[lot.CellKey]string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]model.Account),
		positions: make(map[string]*model.Position),
		lots:      make(map[lot.CellKey]string),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	s.accounts[a.ID] = *a
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	slices.SortFunc(accounts, func(a, b model.Account) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return accounts, nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lot.CellOf(*p)
	if _, ok := s.lots[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLot, key)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s already exists", p.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *p
	s.positions[p.ID] = &copy
	s.order = append(s.order, p.ID)
	s.lots[key] = p.ID
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.order))
	for _, id := range s.order {
		positions = append(positions, *s.positions[id])
	}
	return positions, nil
}

func (s *MemoryStore) UpdateQuantity(_ context.Context, id string, quantity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	p.CurrentValue = rescale(*p, quantity)
	p.Quantity = quantity
	return nil
}
