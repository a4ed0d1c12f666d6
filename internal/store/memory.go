package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/slotbid/bidding-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*model.Product
	users    map[string]*model.User
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*model.Product),
		users:    make(map[string]*model.User),
	}
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.Name == p.Name && existing.Category == p.Category {
			return ErrDuplicateProduct
		}
	}

	// Store a copy to avoid external mutation.
	s.products[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListProducts(_ context.Context, search string, page, limit int) ([]model.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(search)
	var matched []model.Product
	for _, p := range s.products {
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		matched = append(matched, *p.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []model.Product{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) SaveProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.products[p.ID]
	if !ok {
		return ErrProductNotFound
	}
	if stored.Version != p.Version {
		return ErrVersionConflict
	}

	next := p.Clone()
	next.Version++
	s.products[p.ID] = next
	p.Version = next.Version
	return nil
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) GetUserExposures(_ context.Context, userID string) ([]model.Exposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exposures []model.Exposure
	for _, p := range s.products {
		for _, u := range p.BidUsers {
			if u.UserID == userID {
				exposures = append(exposures, model.Exposure{
					ProductID:   p.ID,
					ProductName: p.Name,
					Category:    p.Category,
					Amount:      u.InvestedAmount,
				})
			}
		}
	}

	sort.Slice(exposures, func(i, j int) bool {
		return exposures[i].ProductID < exposures[j].ProductID
	})
	return exposures, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
