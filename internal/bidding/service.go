// Package bidding provides the HTTP handlers and business logic for
// managing products, allocating slots, placing bids, and declaring winners.
//
// All monetary values use shopspring/decimal — never float64 for money.
package bidding

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/slotbid/bidding-engine/internal/allocation"
	"github.com/slotbid/bidding-engine/internal/catalog"
	"github.com/slotbid/bidding-engine/internal/draw"
	"github.com/slotbid/bidding-engine/internal/limits"
	"github.com/slotbid/bidding-engine/internal/metrics"
	"github.com/slotbid/bidding-engine/internal/model"
	"github.com/slotbid/bidding-engine/internal/store"
)

// Service handles auction operations. Mutating operations on the same
// product are serialized by a per-product lock; operations on different
// products do not contend. The store's version check backs the lock up for
// multi-instance deployments.
type Service struct {
	store   store.Store
	limiter *limits.InvestmentLimiter
	rand    draw.Source
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new bidding service. Pass nil for hub if WebSocket
// broadcasting is not needed, and nil for src to use the default entropy
// source (tests inject a fixed one).
func NewService(st store.Store, limiter *limits.InvestmentLimiter, hub *WSHub, src draw.Source) *Service {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{
		store:   st,
		limiter: limiter,
		rand:    src,
		wsHub:   hub,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockProduct acquires the mutation lock for one product and returns the
// unlock function. Lock entries are never evicted; products are few and
// the mutexes are small.
func (s *Service) lockProduct(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// --- Request/Response types ---

// CreateProductRequest is the JSON body for product creation.
type CreateProductRequest struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
}

// UpdateProductRequest is the JSON body for product updates. Nil fields
// are left unchanged. Price is only editable before bidding readiness.
type UpdateProductRequest struct {
	Name     *string          `json:"name,omitempty"`
	Category *string          `json:"category,omitempty"`
	Image    *string          `json:"image,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// CreateSlotRequest is the JSON body for slot creation/extension.
type CreateSlotRequest struct {
	SlotPrice decimal.Decimal `json:"slot_price"`
	SlotUnits int64           `json:"slot_units"`
}

// SlotResponse is returned from POST /products/{id}/slots.
type SlotResponse struct {
	BidSlots        []model.Slot        `json:"bid_slots"`
	RemainingAmount decimal.Decimal     `json:"remaining_amount"`
	ProductPrice    decimal.Decimal     `json:"product_price"`
	Status          model.ProductStatus `json:"status"`
}

// PlaceBidRequest is the JSON body for POST /products/{id}/bids.
type PlaceBidRequest struct {
	UserID      string          `json:"user_id"`
	BidAmount   decimal.Decimal `json:"bid_amount"`
	BidQuantity int64           `json:"bid_quantity"`
}

// BidResponse is returned from a successful bid.
type BidResponse struct {
	ProductID      string              `json:"product_id"`
	UserID         string              `json:"user_id"`
	BidAmount      decimal.Decimal     `json:"bid_amount"`
	BidQuantity    int64               `json:"bid_quantity"`
	InvestedAmount decimal.Decimal     `json:"invested_amount"`
	RemainingUnits int64               `json:"remaining_units"`
	BookedSlots    int                 `json:"booked_slots"`
	Status         model.ProductStatus `json:"status"`
}

// WinnerResponse is returned from POST /products/{id}/winner.
type WinnerResponse struct {
	ProductID  string              `json:"product_id"`
	WinnerID   string              `json:"winner_id"`
	WinnerName string              `json:"winner_name,omitempty"`
	Status     model.ProductStatus `json:"status"`
}

// ListProductsResponse is the paginated product listing.
type ListProductsResponse struct {
	Products     []model.Product `json:"products"`
	TotalRecords int             `json:"total_records"`
}

// RegisterUserRequest is the JSON body for directory registration.
type RegisterUserRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// --- HTTP Handlers ---

// CreateProduct handles POST /api/v1/products
func (s *Service) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	listing, err := catalog.NewListing(req.Name, req.Category, req.Image, req.Price)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	product := &model.Product{
		ID:        uuid.New().String(),
		Name:      listing.Name,
		Category:  listing.Category,
		Image:     listing.Image,
		Price:     listing.Price,
		Status:    model.StatusNotReadyToBid,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateProduct(r.Context(), product); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("product created",
		"id", product.ID,
		"name", product.Name,
		"category", product.Category,
		"price", product.Price.String(),
	)

	writeJSON(w, http.StatusCreated, product)
}

// ListProducts handles GET /api/v1/products
// Supports ?search= (case-insensitive name match), ?page= and ?limit=.
func (s *Service) ListProducts(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)
	search := r.URL.Query().Get("search")

	products, total, err := s.store.ListProducts(r.Context(), search, page, limit)
	if err != nil {
		writeError(w, "failed to list products", http.StatusInternalServerError)
		return
	}
	if products == nil {
		products = []model.Product{}
	}

	writeJSON(w, http.StatusOK, ListProductsResponse{
		Products:     products,
		TotalRecords: total,
	})
}

// GetProduct handles GET /api/v1/products/{productID}
func (s *Service) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	product, err := s.store.GetProduct(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// UpdateProduct handles PATCH /api/v1/products/{productID}
// The price is only editable while the product is not ready to bid.
func (s *Service) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req UpdateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	unlock := s.lockProduct(productID)
	defer unlock()

	product, err := s.store.GetProduct(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Price != nil && product.Status != model.StatusNotReadyToBid {
		writeError(w, "product price can no longer be updated", http.StatusConflict)
		return
	}

	next := product.Clone()
	if req.Name != nil {
		next.Name = *req.Name
	}
	if req.Category != nil {
		next.Category = *req.Category
	}
	if req.Image != nil {
		next.Image = *req.Image
	}
	if req.Price != nil {
		next.Price = *req.Price
	}

	if _, err := catalog.NewListing(next.Name, next.Category, next.Image, next.Price); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	next.UpdatedAt = time.Now().UTC()
	if err := s.saveProduct(r.Context(), next); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, next)
}

// DeleteProduct handles DELETE /api/v1/products/{productID}
// A product can only be deleted before bidding has completed.
func (s *Service) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	unlock := s.lockProduct(productID)
	defer unlock()

	product, err := s.store.GetProduct(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if product.Status == model.StatusBidCompleted || product.Status == model.StatusSold {
		writeError(w, "product can no longer be deleted", http.StatusConflict)
		return
	}

	if err := s.store.DeleteProduct(r.Context(), productID); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("product deleted", "id", productID)
	w.WriteHeader(http.StatusNoContent)
}

// CreateSlot handles POST /api/v1/products/{productID}/slots
// Creates a new price tier or extends an existing one.
func (s *Service) CreateSlot(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	unlock := s.lockProduct(productID)
	defer unlock()

	product, err := s.store.GetProduct(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	next, result, err := allocation.CreateOrExtendSlot(product, req.SlotPrice, req.SlotUnits)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	next.UpdatedAt = time.Now().UTC()
	if err := s.saveProduct(r.Context(), next); err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.SlotsCreated.Inc()
	slog.Info("slot created",
		"product", productID,
		"slot_price", req.SlotPrice.String(),
		"slot_units", req.SlotUnits,
		"remaining_amount", result.RemainingAmount.String(),
		"status", string(next.Status),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "slot_created",
			ProductID: productID,
			Status:    string(next.Status),
			SlotPrice: req.SlotPrice.String(),
		})
	}

	writeJSON(w, http.StatusCreated, SlotResponse{
		BidSlots:        result.Slots,
		RemainingAmount: result.RemainingAmount,
		ProductPrice:    result.ProductPrice,
		Status:          next.Status,
	})
}

// PlaceBid handles POST /api/v1/products/{productID}/bids
// Consumes slot units and records the investment; either everything is
// applied and saved, or nothing is.
func (s *Service) PlaceBid(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	productID := chi.URLParam(r, "productID")

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.BidAmount.LessThanOrEqual(decimal.Zero) || req.BidQuantity <= 0 {
		writeError(w, "bid_amount and bid_quantity must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	unlock := s.lockProduct(productID)
	defer unlock()

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		writeDomainError(w, err)
		return
	}

	// --- Investment limit check ---
	if s.limiter != nil {
		exposures, err := s.store.GetUserExposures(ctx, req.UserID)
		if err != nil {
			writeError(w, "failed to check investment limits", http.StatusInternalServerError)
			return
		}
		delta := req.BidAmount.Mul(decimal.NewFromInt(req.BidQuantity))
		if err := s.limiter.Check(productID, product.Category, delta, exposures); err != nil {
			metrics.BidsTotal.WithLabelValues("rejected").Inc()
			metrics.LimitRejections.Inc()
			writeDomainError(w, err)
			return
		}
	}

	next, err := allocation.PlaceBid(product, req.UserID, req.BidAmount, req.BidQuantity)
	if err != nil {
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		writeDomainError(w, err)
		return
	}

	next.UpdatedAt = time.Now().UTC()
	if err := s.saveProduct(ctx, next); err != nil {
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		writeDomainError(w, err)
		return
	}

	metrics.BidsTotal.WithLabelValues("accepted").Inc()
	metrics.BidLatency.Observe(time.Since(start).Seconds())

	var remaining int64
	for _, slot := range next.BidSlots {
		if slot.SlotPrice.Equal(req.BidAmount) {
			remaining = slot.RemainingUnits
			break
		}
	}
	invested := decimal.Zero
	for _, u := range next.BidUsers {
		if u.UserID == req.UserID {
			invested = u.InvestedAmount
			break
		}
	}

	slog.Info("bid placed",
		"product", productID,
		"user", req.UserID,
		"amount", req.BidAmount.String(),
		"quantity", req.BidQuantity,
		"booked_slots", next.BookedSlots,
		"status", string(next.Status),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:           "bid_placed",
			ProductID:      productID,
			Status:         string(next.Status),
			SlotPrice:      req.BidAmount.String(),
			RemainingUnits: remaining,
			UserID:         req.UserID,
		})
		if next.Status == model.StatusBidCompleted {
			s.wsHub.Broadcast(WSMessage{
				Type:      "bid_completed",
				ProductID: productID,
				Status:    string(next.Status),
			})
		}
	}

	writeJSON(w, http.StatusOK, BidResponse{
		ProductID:      productID,
		UserID:         req.UserID,
		BidAmount:      req.BidAmount,
		BidQuantity:    req.BidQuantity,
		InvestedAmount: invested,
		RemainingUnits: remaining,
		BookedSlots:    next.BookedSlots,
		Status:         next.Status,
	})
}

// DeclareWinner handles POST /api/v1/products/{productID}/winner
// Draws a winner weighted by invested amount and marks the product Sold.
// Terminal: a repeat call is rejected.
func (s *Service) DeclareWinner(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	ctx := r.Context()

	unlock := s.lockProduct(productID)
	defer unlock()

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	next, winnerID, err := draw.DeclareWinner(product, s.rand)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	next.UpdatedAt = time.Now().UTC()
	if err := s.saveProduct(ctx, next); err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.WinnerDraws.Inc()

	// Enrich with the display name; a missing directory record does not
	// undo the (already committed) terminal transition.
	winnerName := ""
	if u, err := s.store.GetUser(ctx, winnerID); err == nil {
		winnerName = u.Name
	} else {
		slog.Warn("winner has no directory record", "product", productID, "user", winnerID)
	}

	slog.Info("winner declared",
		"product", productID,
		"winner", winnerID,
		"invested_total", next.TotalInvested().String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "winner_declared",
			ProductID: productID,
			Status:    string(next.Status),
			Winner:    winnerID,
		})
	}

	writeJSON(w, http.StatusOK, WinnerResponse{
		ProductID:  productID,
		WinnerID:   winnerID,
		WinnerName: winnerName,
		Status:     next.Status,
	})
}

// ListInvestors handles GET /api/v1/products/{productID}/investors
// Returns the investment ledger in first-bid order.
func (s *Service) ListInvestors(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	product, err := s.store.GetProduct(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ledger := product.BidUsers
	if ledger == nil {
		ledger = []model.UserInvestment{}
	}
	writeJSON(w, http.StatusOK, ledger)
}

// GetUserInvestments handles GET /api/v1/users/{userID}/investments
// Returns the user's cumulative investment per product.
func (s *Service) GetUserInvestments(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	exposures, err := s.store.GetUserExposures(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load investments", http.StatusInternalServerError)
		return
	}
	if exposures == nil {
		exposures = []model.Exposure{}
	}
	writeJSON(w, http.StatusOK, exposures)
}

// RegisterUser handles POST /api/v1/users
// Adds a directory record used to enrich winner results.
func (s *Service) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	user := &model.User{ID: req.ID, Name: req.Name}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, "failed to register user", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// saveProduct commits an aggregate and counts lost races.
func (s *Service) saveProduct(ctx context.Context, p *model.Product) error {
	err := s.store.SaveProduct(ctx, p)
	if errors.Is(err, store.ErrVersionConflict) {
		metrics.SaveConflicts.Inc()
	}
	return err
}

// --- helpers ---

// writeDomainError maps sentinel errors onto HTTP statuses: bad input 400,
// missing references 404, state/capacity/conflict violations 409.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, allocation.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, allocation.ErrSlotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, allocation.ErrInvalidState),
		errors.Is(err, allocation.ErrCapacityExceeded),
		errors.Is(err, draw.ErrInvalidState),
		errors.Is(err, draw.ErrEmptyLedger),
		errors.Is(err, store.ErrDuplicateProduct),
		errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, limits.ErrPerProductLimitExceeded),
		errors.Is(err, limits.ErrCategoryLimitExceeded):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// queryInt parses a positive integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
