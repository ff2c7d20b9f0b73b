// Package lot derives stable identities for purchase lots and grid cells.
//
// A lot is one purchase of one instrument, identified by its identifier,
// purchase date and asset type. The same lot can be held in several
// accounts; a cell is one (lot, account) pair. Keys are comparable value
// types so they can be used directly as map keys, and each has a
// reversible string form for transport.
package lot

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/atmx/position-grid/internal/model"
)

// DateLayout is the purchase-date layout used inside keys.
const DateLayout = "2006-01-02"

const sep = "|"

var dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ErrInvalidKey is returned when a key string cannot be decoded.
var ErrInvalidKey = errors.New("lot: invalid key")

// Key identifies a lot across accounts. It is the row identity of the grid.
type Key struct {
	Identifier   string          `json:"identifier"`
	PurchaseDate string          `json:"purchase_date"` // DateLayout, empty when unknown
	AssetType    model.AssetType `json:"asset_type"`
}

// CellKey identifies one lot in one account.
type CellKey struct {
	Lot       Key    `json:"lot"`
	AccountID string `json:"account_id"`
}

// EntryKey identifies a proposed lot slot for the new-position overlay.
type EntryKey struct {
	Identifier   string `json:"identifier"`
	PurchaseDate string `json:"purchase_date"`
	AccountID    string `json:"account_id"`
}

// FormatDate renders a purchase date the way keys store it.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// NewKey builds a lot key from its parts.
func NewKey(identifier string, purchaseDate time.Time, assetType model.AssetType) Key {
	return Key{
		Identifier:   strings.TrimSpace(identifier),
		PurchaseDate: FormatDate(purchaseDate),
		AssetType:    assetType,
	}
}

// KeyOf returns the lot key of a position.
func KeyOf(p model.Position) Key {
	return NewKey(p.Identifier, p.PurchaseDate, p.AssetType)
}

// CellOf returns the cell key of a position.
func CellOf(p model.Position) CellKey {
	return CellKey{Lot: KeyOf(p), AccountID: p.AccountID}
}

// Cell returns the key of this lot in the given account.
func (k Key) Cell(accountID string) CellKey {
	return CellKey{Lot: k, AccountID: accountID}
}

// EntryOf returns the overlay key of a proposed lot.
func EntryOf(e model.NewPositionEntry) EntryKey {
	return EntryKey{
		Identifier:   strings.TrimSpace(e.Identifier),
		PurchaseDate: FormatDate(e.PurchaseDate),
		AccountID:    e.AccountID,
	}
}

// Entry returns the new-position slot this cell occupies.
func (c CellKey) Entry() EntryKey {
	return EntryKey{
		Identifier:   c.Lot.Identifier,
		PurchaseDate: c.Lot.PurchaseDate,
		AccountID:    c.AccountID,
	}
}

// Less orders keys by identifier, then purchase date, then asset type.
func (k Key) Less(o Key) bool {
	if k.Identifier != o.Identifier {
		return k.Identifier < o.Identifier
	}
	if k.PurchaseDate != o.PurchaseDate {
		return k.PurchaseDate < o.PurchaseDate
	}
	return k.AssetType < o.AssetType
}

// --- String codec ---

// String encodes the key as "assetType|identifier|date" with each
// component query-escaped, so separators inside identifiers never collide.
func (k Key) String() string {
	return join(string(k.AssetType), k.Identifier, k.PurchaseDate)
}

// String encodes the cell key as the lot key followed by the account ID.
func (c CellKey) String() string {
	return c.Lot.String() + sep + url.QueryEscape(c.AccountID)
}

// String encodes the entry key as "identifier|date|account".
func (e EntryKey) String() string {
	return join(e.Identifier, e.PurchaseDate, e.AccountID)
}

// ParseKey decodes a string produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts, err := split(s, 3)
	if err != nil {
		return Key{}, err
	}
	return newCheckedKey(parts[1], parts[2], model.AssetType(parts[0]))
}

// ParseCellKey decodes a string produced by CellKey.String.
func ParseCellKey(s string) (CellKey, error) {
	parts, err := split(s, 4)
	if err != nil {
		return CellKey{}, err
	}
	k, err := newCheckedKey(parts[1], parts[2], model.AssetType(parts[0]))
	if err != nil {
		return CellKey{}, err
	}
	if parts[3] == "" {
		return CellKey{}, fmt.Errorf("%w: empty account in %q", ErrInvalidKey, s)
	}
	return CellKey{Lot: k, AccountID: parts[3]}, nil
}

// ParseEntryKey decodes a string produced by EntryKey.String.
func ParseEntryKey(s string) (EntryKey, error) {
	parts, err := split(s, 3)
	if err != nil {
		return EntryKey{}, err
	}
	if parts[0] == "" || parts[2] == "" {
		return EntryKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	if parts[1] != "" && !dateRegex.MatchString(parts[1]) {
		return EntryKey{}, fmt.Errorf("%w: invalid date %q", ErrInvalidKey, parts[1])
	}
	return EntryKey{Identifier: parts[0], PurchaseDate: parts[1], AccountID: parts[2]}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(b []byte) error {
	v, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c CellKey) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CellKey) UnmarshalText(b []byte) error {
	v, err := ParseCellKey(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (e EntryKey) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EntryKey) UnmarshalText(b []byte) error {
	v, err := ParseEntryKey(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func newCheckedKey(identifier, date string, assetType model.AssetType) (Key, error) {
	if identifier == "" {
		return Key{}, fmt.Errorf("%w: empty identifier", ErrInvalidKey)
	}
	if !assetType.Valid() {
		return Key{}, fmt.Errorf("%w: unsupported asset type %q", ErrInvalidKey, assetType)
	}
	if date != "" {
		if !dateRegex.MatchString(date) {
			return Key{}, fmt.Errorf("%w: invalid date %q", ErrInvalidKey, date)
		}
		if _, err := time.Parse(DateLayout, date); err != nil {
			return Key{}, fmt.Errorf("%w: invalid date %q", ErrInvalidKey, date)
		}
	}
	return Key{Identifier: identifier, PurchaseDate: date, AssetType: assetType}, nil
}

func join(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.QueryEscape(p)
	}
	return strings.Join(escaped, sep)
}

func split(s string, n int) ([]string, error) {
	raw := strings.Split(s, sep)
	if len(raw) != n {
		return nil, fmt.Errorf("%w: %q (expected %d components)", ErrInvalidKey, s, n)
	}
	parts := make([]string, n)
	for i, r := range raw {
		p, err := url.QueryUnescape(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
		}
		parts[i] = p
	}
	return parts, nil
}
