// Package model defines the core domain types shared across the position grid.
// All quantities and values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType is the kind of holding a position represents.
type AssetType string

// Supported asset types.
const (
	AssetSecurity AssetType = "security"
	AssetCrypto   AssetType = "crypto"
	AssetMetal    AssetType = "metal"
)

// AssetTypes lists every supported asset type in display order.
var AssetTypes = []AssetType{AssetSecurity, AssetCrypto, AssetMetal}

// Valid reports whether t is a supported asset type.
func (t AssetType) Valid() bool {
	switch t {
	case AssetSecurity, AssetCrypto, AssetMetal:
		return true
	}
	return false
}

// Account is a brokerage, wallet, or vault that holds positions.
type Account struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Institution string `json:"institution" db:"institution"`
}

// Position is one lot held in one account. The (Identifier, PurchaseDate,
// AssetType) triple is unique within an account but repeats across accounts.
type Position struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"account_id" db:"account_id"`
	Identifier   string          `json:"identifier" db:"identifier"` // ticker, ISIN, coin or metal code
	Name         string          `json:"name" db:"name"`
	AssetType    AssetType       `json:"asset_type" db:"asset_type"`
	PurchaseDate time.Time       `json:"purchase_date" db:"purchase_date"` // zero when unknown
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	CurrentValue decimal.Decimal `json:"current_value" db:"current_value"` // mark-to-market
}

// UnitPrice derives the per-unit price from the current value. A position
// with zero quantity has no observable price and reports zero.
func (p Position) UnitPrice() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.CurrentValue.Div(p.Quantity)
}

// NewPositionEntry is a proposed lot for an account that does not hold it yet.
type NewPositionEntry struct {
	Identifier   string          `json:"identifier"`
	Name         string          `json:"name"`
	PurchaseDate time.Time       `json:"purchase_date"`
	AssetType    AssetType       `json:"asset_type"`
	AccountID    string          `json:"account_id"`
	AccountName  string          `json:"account_name"`
	Institution  string          `json:"institution"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"` // optional; zero when not supplied
}
