package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/model"
)

const (
	accountsKey  = "posgrid:accounts"
	positionsKey = "posgrid:positions"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountsKey)
	return nil
}

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.CreatePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey)
	return nil
}

func (s *CachedStore) UpdateQuantity(ctx context.Context, id string, quantity decimal.Decimal) error {
	if err := s.primary.UpdateQuantity(ctx, id, quantity); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, positionsKey, positionKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	if s.get(ctx, accountsKey, &accounts) {
		return accounts, nil
	}

	accounts, err := s.primary.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, accountsKey, accounts)
	return accounts, nil
}

func (s *CachedStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	if s.get(ctx, positionsKey, &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, positionsKey, positions)
	return positions, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var p model.Position
	if s.get(ctx, positionKey(id), &p) {
		return &p, nil
	}

	pos, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, positionKey(id), pos)
	return pos, nil
}

// --- Cache helpers ---

// get decodes a cached value into dst. A miss, a Redis error or a corrupt
// entry all read as a miss.
func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func positionKey(id string) string { return fmt.Sprintf("posgrid:position:%s", id) }
