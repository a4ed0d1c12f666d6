package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotbid/bidding-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for product aggregates and directory records. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary. Listing and exposure queries always hit the primary.
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

func (s *CachedStore) CreateProduct(ctx context.Context, p *model.Product) error {
	if err := s.primary.CreateProduct(ctx, p); err != nil {
		return err
	}
	s.cacheProduct(ctx, p)
	return nil
}

func (s *CachedStore) SaveProduct(ctx context.Context, p *model.Product) error {
	if err := s.primary.SaveProduct(ctx, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the committed version.
	s.rdb.Del(ctx, productKey(p.ID))
	return nil
}

func (s *CachedStore) DeleteProduct(ctx context.Context, id string) error {
	if err := s.primary.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, productKey(id))
	return nil
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(u.ID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	data, err := s.rdb.Get(ctx, productKey(id)).Bytes()
	if err == nil {
		var p model.Product
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheProduct(ctx, p)
	return p, nil
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(u); err == nil {
		s.rdb.Set(ctx, userKey(id), data, s.ttl)
	}
	return u, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListProducts(ctx context.Context, search string, page, limit int) ([]model.Product, int, error) {
	return s.primary.ListProducts(ctx, search, page, limit)
}

func (s *CachedStore) GetUserExposures(ctx context.Context, userID string) ([]model.Exposure, error) {
	return s.primary.GetUserExposures(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheProduct(ctx context.Context, p *model.Product) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, productKey(p.ID), data, s.ttl)
	}
}

func productKey(id string) string { return fmt.Sprintf("product:%s", id) }
func userKey(id string) string    { return fmt.Sprintf("user:%s", id) }
