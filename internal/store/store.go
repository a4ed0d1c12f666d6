// Package store defines the persistence interface for the bidding engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/slotbid/bidding-engine/internal/model"
)

var (
	// ErrProductNotFound is returned when the referenced product does not exist.
	ErrProductNotFound = errors.New("store: product not found")

	// ErrDuplicateProduct is returned when a product with the same name and
	// category already exists.
	ErrDuplicateProduct = errors.New("store: product with this name and category already exists")

	// ErrVersionConflict is returned when a save races a concurrent writer.
	// The caller's in-memory mutation is discarded in full.
	ErrVersionConflict = errors.New("store: product was modified concurrently")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("store: user not found")
)

// Store is the persistence interface. The product is the unit of atomic
// commit: SaveProduct writes the whole aggregate in one versioned update,
// so engine mutations either land in full or not at all.
type Store interface {
	// --- Product aggregate ---

	// CreateProduct persists a new product. Name+category must be unique.
	CreateProduct(ctx context.Context, p *model.Product) error

	// GetProduct retrieves a product by ID.
	GetProduct(ctx context.Context, id string) (*model.Product, error)

	// ListProducts returns a page of products, newest first, optionally
	// filtered by a case-insensitive name substring, with the total count.
	ListProducts(ctx context.Context, search string, page, limit int) ([]model.Product, int, error)

	// SaveProduct commits a mutated aggregate. The product's Version must
	// match the stored one; on success the version is bumped, otherwise
	// ErrVersionConflict is returned and nothing is written.
	SaveProduct(ctx context.Context, p *model.Product) error

	// DeleteProduct removes a product. Lifecycle rules (no deletion once
	// bidding has completed) are enforced by the caller under the product
	// lock.
	DeleteProduct(ctx context.Context, id string) error

	// --- Cross-product queries ---

	// GetUserExposures returns the user's cumulative investment per product.
	GetUserExposures(ctx context.Context, userID string) ([]model.Exposure, error)

	// --- User directory ---

	// CreateUser persists a directory record.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a directory record by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)
}
