// Package store defines the persistence interface for accounts and lots.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/model"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrDuplicateLot = errors.New("store: lot already held in account")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, account *model.Account) error

	// ListAccounts returns all accounts ordered by name.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// --- Positions ---

	// CreatePosition persists a new lot. A lot with the same identifier,
	// purchase date and asset type in the same account is ErrDuplicateLot.
	CreatePosition(ctx context.Context, position *model.Position) error

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositions returns every position across all accounts.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// UpdateQuantity replaces a position's quantity, rescaling its current
	// value by the existing unit price.
	UpdateQuantity(ctx context.Context, id string, quantity decimal.Decimal) error
}

// rescale returns the current value of quantity units at p's unit price.
// A position with zero quantity keeps its value.
func rescale(p model.Position, quantity decimal.Decimal) decimal.Decimal {
	if p.Quantity.IsZero() {
		return p.CurrentValue
	}
	return p.UnitPrice().Mul(quantity).Round(8)
}
