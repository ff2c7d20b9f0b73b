package lot

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/atmx/position-grid/internal/model"
)

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestKeyOf_SameLotAcrossAccounts(t *testing.T) {
	a := model.Position{ID: "1", AccountID: "acc-1", Identifier: "AAPL", AssetType: model.AssetSecurity, PurchaseDate: date(2024, 1, 5)}
	b := model.Position{ID: "2", AccountID: "acc-2", Identifier: "AAPL", AssetType: model.AssetSecurity, PurchaseDate: date(2024, 1, 5)}

	if KeyOf(a) != KeyOf(b) {
		t.Errorf("expected equal lot keys, got %v and %v", KeyOf(a), KeyOf(b))
	}
	if CellOf(a) == CellOf(b) {
		t.Error("expected distinct cell keys for different accounts")
	}
}

func TestKeyOf_DistinguishesDateAndType(t *testing.T) {
	base := model.Position{Identifier: "BTC", AssetType: model.AssetCrypto, PurchaseDate: date(2023, 6, 1)}
	otherDate := base
	otherDate.PurchaseDate = date(2023, 6, 2)
	otherType := base
	otherType.AssetType = model.AssetMetal

	if KeyOf(base) == KeyOf(otherDate) {
		t.Error("expected purchase date to distinguish lots")
	}
	if KeyOf(base) == KeyOf(otherType) {
		t.Error("expected asset type to distinguish lots")
	}
}

func TestKeyOf_ZeroDate(t *testing.T) {
	k := KeyOf(model.Position{Identifier: "XAU", AssetType: model.AssetMetal})
	if k.PurchaseDate != "" {
		t.Errorf("expected empty purchase date, got %q", k.PurchaseDate)
	}
}

func TestCellKey_RoundTrip(t *testing.T) {
	tests := []CellKey{
		{Lot: Key{Identifier: "AAPL", PurchaseDate: "2024-01-05", AssetType: model.AssetSecurity}, AccountID: "acc-1"},
		{Lot: Key{Identifier: "BRK|B", PurchaseDate: "", AssetType: model.AssetSecurity}, AccountID: "a|b"},
		{Lot: Key{Identifier: "Gold bar 1oz", PurchaseDate: "2020-02-29", AssetType: model.AssetMetal}, AccountID: "vault 7"},
		{Lot: Key{Identifier: "100%", PurchaseDate: "2021-12-31", AssetType: model.AssetCrypto}, AccountID: "x"},
	}
	for _, want := range tests {
		got, err := ParseCellKey(want.String())
		if err != nil {
			t.Errorf("ParseCellKey(%q): unexpected error: %v", want.String(), err)
			continue
		}
		if got != want {
			t.Errorf("round trip mismatch: want %+v, got %+v", want, got)
		}
	}
}

func TestKey_NoEncodingCollision(t *testing.T) {
	a := CellKey{Lot: Key{Identifier: "A|B", AssetType: model.AssetSecurity}, AccountID: "C"}
	b := CellKey{Lot: Key{Identifier: "A", AssetType: model.AssetSecurity}, AccountID: "B|C"}
	if a.String() == b.String() {
		t.Errorf("distinct keys share encoding %q", a.String())
	}
}

func TestParseCellKey_Invalid(t *testing.T) {
	tests := []string{
		"",
		"security|AAPL|2024-01-05",
		"stock|AAPL|2024-01-05|acc",
		"security||2024-01-05|acc",
		"security|AAPL|05/01/2024|acc",
		"security|AAPL|2024-13-45|acc",
		"security|AAPL|2024-01-05|",
		"security|AAPL|2024-01-05|acc|extra",
	}
	for _, s := range tests {
		if _, err := ParseCellKey(s); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseCellKey(%q): expected ErrInvalidKey, got %v", s, err)
		}
	}
}

func TestEntryKey_RoundTrip(t *testing.T) {
	e := EntryOf(model.NewPositionEntry{Identifier: " MSFT ", PurchaseDate: date(2022, 3, 4), AccountID: "acc-2"})
	if e.Identifier != "MSFT" {
		t.Errorf("expected trimmed identifier, got %q", e.Identifier)
	}
	got, err := ParseEntryKey(e.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != e {
		t.Errorf("round trip mismatch: want %+v, got %+v", e, got)
	}
}

func TestCellKey_Entry(t *testing.T) {
	c := Key{Identifier: "ETH", PurchaseDate: "2021-05-01", AssetType: model.AssetCrypto}.Cell("w1")
	want := EntryKey{Identifier: "ETH", PurchaseDate: "2021-05-01", AccountID: "w1"}
	if c.Entry() != want {
		t.Errorf("expected %+v, got %+v", want, c.Entry())
	}
}

func TestKey_Less(t *testing.T) {
	a := Key{Identifier: "AAPL", PurchaseDate: "2024-01-01", AssetType: model.AssetSecurity}
	b := Key{Identifier: "AAPL", PurchaseDate: "2024-02-01", AssetType: model.AssetSecurity}
	c := Key{Identifier: "MSFT", PurchaseDate: "2020-01-01", AssetType: model.AssetSecurity}
	if !a.Less(b) || !b.Less(c) || c.Less(a) {
		t.Error("unexpected key ordering")
	}
	if a.Less(a) {
		t.Error("key must not be less than itself")
	}
}

func TestCellKey_JSONAsString(t *testing.T) {
	c := NewKey("BRK/B", time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), model.AssetSecurity).Cell("acct|1")

	b, err := json.Marshal(map[string]CellKey{"k": c})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]CellKey
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	if got["k"] != c {
		t.Errorf("got %+v, want %+v", got["k"], c)
	}
	if err := json.Unmarshal([]byte(`{"k":"security|X"}`), &got); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}
