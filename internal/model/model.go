// Package model defines the core domain types shared across the bidding engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the lifecycle state of a product. Transitions are
// forward-only: NotReadyToBid → ReadyToBid → BidCompleted → Sold.
type ProductStatus string

const (
	StatusNotReadyToBid ProductStatus = "Not ready to bid"
	StatusReadyToBid    ProductStatus = "Ready to bid"
	StatusBidCompleted  ProductStatus = "Bid completed"
	StatusSold          ProductStatus = "Sold"
)

// Slot is a priced unit-tier of a product's total value. Slots are owned
// exclusively by their product and are unique by SlotPrice within it.
type Slot struct {
	SlotPrice      decimal.Decimal `json:"slot_price" db:"slot_price"`
	SlotUnits      int64           `json:"slot_units" db:"slot_units"`           // cumulative when the same price is re-submitted
	RemainingUnits int64           `json:"remaining_units" db:"remaining_units"` // in [0, SlotUnits]; 0 = fully booked
}

// UserInvestment is one entry of a product's investment ledger: the
// cumulative amount a user has put into this product across all bids.
// InvestedAmount is monotonically non-decreasing.
type UserInvestment struct {
	UserID         string          `json:"user_id" db:"user_id"`
	InvestedAmount decimal.Decimal `json:"invested_amount" db:"invested_amount"`
}

// Product is the aggregate root. BidSlots keeps creation order, BidUsers
// keeps first-bid order (the draw walks the ledger in that order).
// Version is the optimistic-concurrency token checked on save.
type Product struct {
	ID          string           `json:"id" db:"id"`
	Name        string           `json:"name" db:"name"`
	Category    string           `json:"category" db:"category"`
	Image       string           `json:"image" db:"image"`
	Price       decimal.Decimal  `json:"price" db:"price"`
	Status      ProductStatus    `json:"status" db:"status"`
	BidSlots    []Slot           `json:"bid_slots" db:"bid_slots"`
	BidUsers    []UserInvestment `json:"bid_users" db:"bid_users"`
	BookedSlots int              `json:"booked_slots" db:"booked_slots"`
	BidWinner   string           `json:"bid_winner,omitempty" db:"bid_winner"`
	Version     int64            `json:"version" db:"version"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the product. Engine operations work on a
// clone and hand the new value back, so a failed save discards everything.
func (p *Product) Clone() *Product {
	cp := *p
	if p.BidSlots != nil {
		cp.BidSlots = make([]Slot, len(p.BidSlots))
		copy(cp.BidSlots, p.BidSlots)
	}
	if p.BidUsers != nil {
		cp.BidUsers = make([]UserInvestment, len(p.BidUsers))
		copy(cp.BidUsers, p.BidUsers)
	}
	return &cp
}

// TotalSlotAmount is the capital already partitioned into slots:
// Σ slotPrice * slotUnits. Never exceeds Price.
func (p *Product) TotalSlotAmount() decimal.Decimal {
	total := decimal.Zero
	for _, s := range p.BidSlots {
		total = total.Add(s.SlotPrice.Mul(decimal.NewFromInt(s.SlotUnits)))
	}
	return total
}

// TotalInvested is the sum of all ledger entries. May be less than Price
// while slots remain unsold.
func (p *Product) TotalInvested() decimal.Decimal {
	total := decimal.Zero
	for _, u := range p.BidUsers {
		total = total.Add(u.InvestedAmount)
	}
	return total
}

// User is a directory record; the engine only reads the display name when
// enriching winner results.
type User struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Exposure is a user's cumulative investment in one product, used for
// cross-product investment limits and portfolio queries.
type Exposure struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
}
