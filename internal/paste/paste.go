// Package paste ingests tabular text copied from a spreadsheet and applies
// each line to the draft or new-position overlay.
//
// Parsing is best-effort: a bad line is counted and reported, and the
// remaining lines are still applied.
package paste

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/draft"
	"github.com/atmx/position-grid/internal/grid"
	"github.com/atmx/position-grid/internal/input"
	"github.com/atmx/position-grid/internal/lot"
	"github.com/atmx/position-grid/internal/model"
)

var (
	ErrUnknownIdentifier = errors.New("paste: identifier is not in the grid")
	ErrUnknownAccount    = errors.New("paste: unknown target account")
	ErrAmbiguousAccount  = errors.New("paste: more than one account is eligible")
	ErrNoRow             = errors.New("paste: no grid row for line")
	ErrMissingField      = errors.New("paste: missing field")
	ErrMalformedLine     = errors.New("paste: malformed line")
)

// Delimiters in detection order. SingleColumn marks a paste of bare
// quantities, which may themselves contain commas or spaces.
const (
	Tab          = "\t"
	Comma        = ","
	Semicolon    = ";"
	Whitespace   = " "
	SingleColumn = ""
)

// LineError describes why one pasted line was not applied.
type LineError struct {
	Line int    `json:"line"` // 1-based line number in the pasted text
	Text string `json:"text"`
	Err  error  `json:"-"`
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// Result reports what a paste did.
type Result struct {
	AppliedToDrafts       int         `json:"applied_to_drafts"`
	AppliedToNewPositions int         `json:"applied_to_new_positions"`
	FailedLines           int         `json:"failed_lines"`
	HeaderDetected        bool        `json:"header_detected"`
	Delimiter             string      `json:"delimiter"`
	Failures              []LineError `json:"failures"`
}

// Applied is the number of lines that reached an overlay.
func (r Result) Applied() int {
	return r.AppliedToDrafts + r.AppliedToNewPositions
}

// Parser dispatches pasted lines into the two overlays.
type Parser struct {
	drafts       *draft.Drafts
	newPositions *draft.NewPositions
}

// NewParser creates a parser writing to the given overlays.
func NewParser(drafts *draft.Drafts, newPositions *draft.NewPositions) *Parser {
	return &Parser{drafts: drafts, newPositions: newPositions}
}

type record struct {
	line   int
	text   string
	fields []string
	err    error
}

// Parse splits text into lines and fields and applies each line. rows is
// the matrix in display order; targetAccountID may be empty.
func (p *Parser) Parse(text string, rows []grid.Row, accounts []model.Account, targetAccountID string) Result {
	records, delim := split(text)
	res := p.apply(records, rows, accounts, targetAccountID)
	res.Delimiter = delim
	return res
}

// ParseRecords applies pre-split records, such as the rows of a workbook.
func (p *Parser) ParseRecords(records [][]string, rows []grid.Row, accounts []model.Account, targetAccountID string) Result {
	var recs []record
	for i, fields := range records {
		fields = trimFields(fields)
		if len(fields) == 0 {
			continue
		}
		recs = append(recs, record{line: i + 1, text: strings.Join(fields, Tab), fields: fields})
	}
	return p.apply(recs, rows, accounts, targetAccountID)
}

// --- Splitting ---

// split breaks text into non-blank records. A paste whose lines are all
// quantities is one column; otherwise the first delimiter found anywhere in
// the paste is used: tab, then comma, then semicolon, else whitespace.
// Records keep their source line numbers, so blank lines leave gaps.
func split(text string) ([]record, string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	delim := Whitespace
	if singleColumn(lines) {
		delim = SingleColumn
	} else {
		for _, candidate := range []string{Tab, Comma, Semicolon} {
			if strings.Contains(text, candidate) {
				delim = candidate
				break
			}
		}
	}

	var records []record
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec := record{line: i + 1, text: line}
		if delim == SingleColumn {
			rec.fields = []string{strings.TrimSpace(line)}
		} else if delim == Whitespace {
			rec.fields = strings.Fields(line)
		} else {
			r := csv.NewReader(strings.NewReader(line))
			r.Comma = rune(delim[0])
			r.LazyQuotes = true
			r.TrimLeadingSpace = true
			r.FieldsPerRecord = -1
			fields, err := r.Read()
			if err != nil {
				rec.err = fmt.Errorf("%w: %v", ErrMalformedLine, err)
			}
			rec.fields = trimFields(fields)
		}
		records = append(records, rec)
	}
	return records, delim
}

// singleColumn reports whether every non-blank line is a bare quantity such
// as 1,000 or 12,5. The first line may instead be a one-word header.
func singleColumn(lines []string) bool {
	first, numbers := true, 0
	for _, line := range lines {
		v := strings.TrimSpace(line)
		if v == "" {
			continue
		}
		switch {
		case isNumber(v):
			numbers++
		case first && !strings.ContainsAny(v, Tab+Comma+Semicolon+Whitespace):
		default:
			return false
		}
		first = false
	}
	return numbers > 0
}

// trimFields trims each field and drops trailing empty cells, which
// spreadsheets emit for selections wider than the data.
func trimFields(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// --- Applying ---

func (p *Parser) apply(records []record, rows []grid.Row, accounts []model.Account, targetAccountID string) Result {
	res := Result{Failures: []LineError{}}
	if len(records) == 0 {
		return res
	}

	fail := func(rec record, err error) {
		res.FailedLines++
		res.Failures = append(res.Failures, LineError{Line: rec.line, Text: rec.text, Err: err})
	}

	quantityOnly := true
	for _, rec := range records {
		if len(rec.fields) > 1 {
			quantityOnly = false
			break
		}
	}

	layout := positionalLayout(quantityOnly)
	if hdr, ok := headerLayout(records[0].fields, quantityOnly); ok {
		if detectHeader(records, hdr.quantity) {
			layout = hdr
			res.HeaderDetected = true
		}
	}
	// Positional fallback: a first line naming a lot in the grid is data
	// with a bad quantity, never a header.
	candidate := field(records[0].fields, layout.identifier)
	if quantityOnly {
		candidate = field(records[0].fields, 0)
	}
	if !res.HeaderDetected && detectHeader(records, layout.quantity) && !identifiesRow(rows, candidate) {
		res.HeaderDetected = true
	}
	if res.HeaderDetected {
		records = records[1:]
	}
	if len(records) == 0 {
		return res
	}
	// Quantity-only lines map to rows by source line, counted from the
	// first data line, so a blank cell in the copy skips its row.
	firstLine := records[0].line
	if !quantityOnly && !res.HeaderDetected {
		layout = layout.withOptionalColumns(records)
	}

	byID := make(map[string]model.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	if targetAccountID != "" {
		if _, ok := byID[targetAccountID]; !ok {
			for _, rec := range records {
				fail(rec, fmt.Errorf("%w: %s", ErrUnknownAccount, targetAccountID))
			}
			return res
		}
	}

	for _, rec := range records {
		if rec.err != nil {
			fail(rec, rec.err)
			continue
		}
		var err error
		if quantityOnly {
			err = p.applyQuantityOnly(rec.line-firstLine, rec, rows, accounts, targetAccountID, &res)
		} else {
			err = p.applyLine(rec, layout, rows, accounts, byID, targetAccountID, &res)
		}
		if err != nil {
			fail(rec, err)
		}
	}
	return res
}

// applyQuantityOnly maps data line i (zero-based from the first data line)
// onto the i-th displayed row.
func (p *Parser) applyQuantityOnly(i int, rec record, rows []grid.Row, accounts []model.Account, targetAccountID string, res *Result) error {
	qty, err := input.ParseQuantity(rec.fields[0])
	if err != nil {
		return err
	}
	if i >= len(rows) {
		return fmt.Errorf("%w: line %d has no row", ErrNoRow, rec.line)
	}
	accountID := targetAccountID
	if accountID == "" {
		if len(accounts) != 1 {
			return ErrAmbiguousAccount
		}
		accountID = accounts[0].ID
	}
	account := model.Account{ID: accountID}
	for _, a := range accounts {
		if a.ID == accountID {
			account = a
		}
	}
	p.dispatch(rows[i], account, qty, decimal.Zero, res)
	return nil
}

func (p *Parser) applyLine(rec record, l layout, rows []grid.Row, accounts []model.Account, byID map[string]model.Account, targetAccountID string, res *Result) error {
	identifier := field(rec.fields, l.identifier)
	if identifier == "" {
		return fmt.Errorf("%w: identifier", ErrMissingField)
	}
	rawQty := field(rec.fields, l.quantity)
	if rawQty == "" {
		return fmt.Errorf("%w: quantity", ErrMissingField)
	}
	qty, err := input.ParseQuantity(rawQty)
	if err != nil {
		return err
	}
	cost, err := costBasis(rec.fields, l, qty)
	if err != nil {
		return err
	}

	var candidates []grid.Row
	for _, r := range rows {
		if strings.EqualFold(r.Identifier, identifier) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownIdentifier, identifier)
	}

	var row grid.Row
	if rawDate := field(rec.fields, l.date); rawDate != "" {
		date, err := input.ParseDate(rawDate)
		if err != nil {
			return err
		}
		found := false
		for _, r := range candidates {
			if r.Key.PurchaseDate == lot.FormatDate(date) {
				row, found = r, true
				break
			}
		}
		if !found {
			// A lot nobody holds yet: borrow the instrument from an existing row.
			tmpl := candidates[0]
			row = grid.Row{
				Key:          lot.NewKey(tmpl.Identifier, date, tmpl.AssetType),
				Identifier:   tmpl.Identifier,
				Name:         tmpl.Name,
				PurchaseDate: date,
				AssetType:    tmpl.AssetType,
			}
		}
	} else {
		row = mostRecent(candidates)
	}

	accountID := targetAccountID
	if accountID == "" {
		var eligible []string
		for _, a := range accounts {
			if row.Cells[a.ID].HasPosition {
				eligible = append(eligible, a.ID)
			}
		}
		switch {
		case len(eligible) == 1:
			accountID = eligible[0]
		case len(eligible) == 0 && len(accounts) == 1:
			accountID = accounts[0].ID
		default:
			return fmt.Errorf("%w: %s", ErrAmbiguousAccount, identifier)
		}
	}

	p.dispatch(row, byID[accountID], qty, cost, res)
	return nil
}

// dispatch sends the quantity to the draft overlay when the cell holds a
// position, otherwise to the new-position overlay.
func (p *Parser) dispatch(row grid.Row, account model.Account, qty, cost decimal.Decimal, res *Result) {
	if cell := row.Cells[account.ID]; cell.HasPosition && cell.Position != nil {
		p.drafts.Set(row.Key.Cell(account.ID), qty, *cell.Position)
		res.AppliedToDrafts++
		return
	}
	p.newPositions.Set(model.NewPositionEntry{
		Identifier:   row.Identifier,
		Name:         row.Name,
		PurchaseDate: row.PurchaseDate,
		AssetType:    row.AssetType,
		AccountID:    account.ID,
		AccountName:  account.Name,
		Institution:  account.Institution,
		Quantity:     qty,
		CostBasis:    cost,
	})
	res.AppliedToNewPositions++
}

// mostRecent picks the candidate with the latest purchase date; the first
// in display order wins ties.
func mostRecent(candidates []grid.Row) grid.Row {
	best := candidates[0]
	for _, r := range candidates[1:] {
		if r.PurchaseDate.After(best.PurchaseDate) {
			best = r
		}
	}
	return best
}

func costBasis(fields []string, l layout, qty decimal.Decimal) (decimal.Decimal, error) {
	if raw := field(fields, l.cost); raw != "" {
		return input.ParseQuantity(raw)
	}
	if raw := field(fields, l.price); raw != "" {
		price, err := input.ParseQuantity(raw)
		if err != nil {
			return decimal.Zero, err
		}
		return price.Mul(qty), nil
	}
	return decimal.Zero, nil
}

func field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

// identifiesRow reports whether identifier names a row in the grid.
func identifiesRow(rows []grid.Row, identifier string) bool {
	if identifier == "" {
		return false
	}
	for _, r := range rows {
		if strings.EqualFold(r.Identifier, identifier) {
			return true
		}
	}
	return false
}

func isNumber(s string) bool {
	_, err := input.ParseQuantity(s)
	return err == nil || errors.Is(err, input.ErrNegative)
}

// detectHeader reports whether the first record is a header: its quantity
// token is not a number while at least one later record's is. When every
// record fails, nothing is treated as a header.
func detectHeader(records []record, quantityCol int) bool {
	if len(records) < 2 || isNumber(field(records[0].fields, quantityCol)) {
		return false
	}
	for _, rec := range records[1:] {
		if isNumber(field(rec.fields, quantityCol)) {
			return true
		}
	}
	return false
}
