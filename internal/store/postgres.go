package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/position-grid/internal/model"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Quantities and values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		institution TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL,
		identifier    TEXT NOT NULL,
		name          TEXT NOT NULL DEFAULT '',
		asset_type    TEXT NOT NULL,
		purchase_date DATE,
		quantity      NUMERIC NOT NULL,
		current_value NUMERIC NOT NULL DEFAULT 0
	)`,
	// One lot per account per identifier/date/asset type.
	`CREATE UNIQUE INDEX IF NOT EXISTS positions_lot_idx ON positions
		(account_id, identifier, asset_type, COALESCE(purchase_date, DATE '0001-01-01'))`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, institution) VALUES ($1, $2, $3)`,
		a.ID, a.Name, a.Institution,
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, institution FROM accounts ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Institution); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, account_id, identifier, name, asset_type, purchase_date, quantity, current_value)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC)`,
		p.ID, p.AccountID, p.Identifier, p.Name, string(p.AssetType),
		nullableDate(p.PurchaseDate),
		p.Quantity.String(), p.CurrentValue.String(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s in account %s", ErrDuplicateLot, p.Identifier, p.AccountID)
	}
	if err != nil {
		return fmt.Errorf("create position: %w", err)
	}
	return nil
}

const positionColumns = `id, account_id, identifier, name, asset_type, purchase_date,
	quantity::TEXT, current_value::TEXT`

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY identifier, purchase_date NULLS FIRST, account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) UpdateQuantity(ctx context.Context, id string, quantity decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET current_value = CASE WHEN quantity = 0 THEN current_value
		                          ELSE ROUND(current_value / quantity * $2::NUMERIC, 8) END,
		     quantity = $2::NUMERIC
		 WHERE id = $1`,
		id, quantity.String(),
	)
	if err != nil {
		return fmt.Errorf("update quantity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	return nil
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (model.Position, error) {
	var p model.Position
	var assetType, qtyS, valueS string
	var purchaseDate *time.Time

	if err := row.Scan(&p.ID, &p.AccountID, &p.Identifier, &p.Name, &assetType,
		&purchaseDate, &qtyS, &valueS); err != nil {
		return model.Position{}, err
	}
	p.AssetType = model.AssetType(assetType)
	if purchaseDate != nil {
		p.PurchaseDate = purchaseDate.UTC()
	}
	p.Quantity, _ = decimal.NewFromString(qtyS)
	p.CurrentValue, _ = decimal.NewFromString(valueS)
	return p, nil
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
