package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/slotbid/bidding-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The product aggregate is persisted as scalar columns plus JSONB documents
// for the slot inventory and the investment ledger; every save is a single
// versioned UPDATE, which makes the row write the atomic commit point.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			category     TEXT NOT NULL,
			image        TEXT NOT NULL DEFAULT '',
			price        NUMERIC NOT NULL,
			status       TEXT NOT NULL,
			bid_slots    JSONB NOT NULL DEFAULT '[]',
			bid_users    JSONB NOT NULL DEFAULT '[]',
			booked_slots INT NOT NULL DEFAULT 0,
			bid_winner   TEXT NOT NULL DEFAULT '',
			version      BIGINT NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			UNIQUE (name, category)
		);
		CREATE TABLE IF NOT EXISTS users (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);`)
	return err
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	slots, users, err := marshalAggregate(p)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO products (id, name, category, image, price, status, bid_slots, bid_users,
		                       booked_slots, bid_winner, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::JSONB, $8::JSONB, $9, $10, $11, $12, $13)`,
		p.ID, p.Name, p.Category, p.Image, p.Price.String(), string(p.Status),
		slots, users, p.BookedSlots, p.BidWinner, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateProduct
		}
		return fmt.Errorf("create product %s: %w", p.ID, err)
	}
	return nil
}

const productColumns = `id, name, category, image, price::TEXT, status,
	bid_slots, bid_users, booked_slots, bid_winner, version, created_at, updated_at`

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, search string, page, limit int) ([]model.Product, int, error) {
	pattern := "%" + search + "%"

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM products WHERE name ILIKE $1`, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+`
		 FROM products WHERE name ILIKE $1
		 ORDER BY created_at DESC
		 OFFSET $2 LIMIT $3`,
		pattern, (page-1)*limit, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}
	return products, total, rows.Err()
}

func (s *PostgresStore) SaveProduct(ctx context.Context, p *model.Product) error {
	slots, users, err := marshalAggregate(p)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE products
		 SET name = $3, category = $4, image = $5, price = $6::NUMERIC, status = $7,
		     bid_slots = $8::JSONB, bid_users = $9::JSONB, booked_slots = $10,
		     bid_winner = $11, version = version + 1, updated_at = $12
		 WHERE id = $1 AND version = $2`,
		p.ID, p.Version, p.Name, p.Category, p.Image, p.Price.String(), string(p.Status),
		slots, users, p.BookedSlots, p.BidWinner, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save product %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrVersionConflict
		}
		return ErrProductNotFound
	}
	p.Version++
	return nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (s *PostgresStore) GetUserExposures(ctx context.Context, userID string) ([]model.Exposure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, p.category, (u->>'invested_amount') AS amount
		 FROM products p, jsonb_array_elements(p.bid_users) u
		 WHERE u->>'user_id' = $1
		 ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exposures []model.Exposure
	for rows.Next() {
		var e model.Exposure
		var amount string
		if err := rows.Scan(&e.ProductID, &e.ProductName, &e.Category, &amount); err != nil {
			return nil, err
		}
		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("exposure amount for product %s: %w", e.ProductID, err)
		}
		exposures = append(exposures, e)
	}
	return exposures, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		u.ID, u.Name)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

// marshalAggregate serializes the nested collections for JSONB columns.
func marshalAggregate(p *model.Product) (slots, users []byte, err error) {
	slots, err = json.Marshal(orEmptySlots(p.BidSlots))
	if err != nil {
		return nil, nil, err
	}
	users, err = json.Marshal(orEmptyUsers(p.BidUsers))
	if err != nil {
		return nil, nil, err
	}
	return slots, users, nil
}

func orEmptySlots(s []model.Slot) []model.Slot {
	if s == nil {
		return []model.Slot{}
	}
	return s
}

func orEmptyUsers(u []model.UserInvestment) []model.UserInvestment {
	if u == nil {
		return []model.UserInvestment{}
	}
	return u
}

// scanProduct reads one product row, decoding NUMERIC and JSONB columns.
func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	var price, status string
	var slots, users []byte

	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Image, &price, &status,
		&slots, &users, &p.BookedSlots, &p.BidWinner, &p.Version,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	p.Status = model.ProductStatus(status)

	if err := json.Unmarshal(slots, &p.BidSlots); err != nil {
		return nil, fmt.Errorf("product %s slots: %w", p.ID, err)
	}
	if err := json.Unmarshal(users, &p.BidUsers); err != nil {
		return nil, fmt.Errorf("product %s ledger: %w", p.ID, err)
	}
	return &p, nil
}
