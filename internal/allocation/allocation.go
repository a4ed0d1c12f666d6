// Package allocation implements the slot-allocation engine: it partitions a
// product's fixed price into priced unit-slots, applies bids against them,
// and advances the product lifecycle.
//
// All operations are value-in/value-out: they clone the product, mutate the
// clone, and return it. The caller commits the new value with a single store
// write; if that write fails, nothing was mutated.
//
// All monetary values use shopspring/decimal — never float64 for money.
package allocation

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/slotbid/bidding-engine/internal/model"
)

var (
	// ErrInvalidState is returned when the product status disallows the
	// operation (bidding before readiness, slot creation after it).
	ErrInvalidState = errors.New("allocation: operation not allowed in current product status")

	// ErrCapacityExceeded is returned when a slot would overflow the product
	// price, or a bid requests more than a slot's remaining units.
	ErrCapacityExceeded = errors.New("allocation: capacity exceeded")

	// ErrSlotNotFound is returned when a bid amount matches no slot price.
	ErrSlotNotFound = errors.New("allocation: no slot at this price")

	// ErrInvalidInput is returned for non-positive prices, units, or
	// quantities. Inputs arrive pre-validated but are re-checked here.
	ErrInvalidInput = errors.New("allocation: price, units and quantity must be positive")
)

// SlotResult reports the slot inventory after a CreateOrExtendSlot call.
type SlotResult struct {
	Slots           []model.Slot    `json:"bid_slots"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	ProductPrice    decimal.Decimal `json:"product_price"`
}

// CreateOrExtendSlot adds slotUnits units at slotPrice to the product's slot
// inventory. Re-submitting an existing slot price extends that slot: its
// SlotUnits grows by slotUnits and RemainingUnits is reset to the new
// cumulative SlotUnits. The reset cannot discard consumed units in practice:
// extension requires NotReadyToBid, consumption requires ReadyToBid, and the
// status never moves backwards.
//
// The capacity invariant Σ slotPrice*slotUnits <= price is checked before any
// mutation; an exact fill transitions the product to ReadyToBid.
func CreateOrExtendSlot(p *model.Product, slotPrice decimal.Decimal, slotUnits int64) (*model.Product, *SlotResult, error) {
	if slotPrice.LessThanOrEqual(decimal.Zero) || slotUnits <= 0 {
		return nil, nil, ErrInvalidInput
	}
	if p.Status != model.StatusNotReadyToBid {
		return nil, nil, ErrInvalidState
	}

	totalSlotAmount := p.TotalSlotAmount()
	addedAmount := slotPrice.Mul(decimal.NewFromInt(slotUnits))

	if totalSlotAmount.Add(addedAmount).GreaterThan(p.Price) {
		return nil, nil, ErrCapacityExceeded
	}

	next := p.Clone()

	if i := findSlot(next.BidSlots, slotPrice); i >= 0 {
		next.BidSlots[i].SlotUnits += slotUnits
		next.BidSlots[i].RemainingUnits = next.BidSlots[i].SlotUnits
	} else {
		next.BidSlots = append(next.BidSlots, model.Slot{
			SlotPrice:      slotPrice,
			SlotUnits:      slotUnits,
			RemainingUnits: slotUnits,
		})
	}

	if totalSlotAmount.Add(addedAmount).Equal(p.Price) {
		next.Status = model.StatusReadyToBid
	}

	result := &SlotResult{
		Slots:           next.BidSlots,
		RemainingAmount: p.Price.Sub(totalSlotAmount).Sub(addedAmount),
		ProductPrice:    p.Price,
	}
	return next, result, nil
}

// PlaceBid consumes bidQuantity units of the slot priced exactly at
// bidAmount and records bidAmount*bidQuantity against userID in the
// investment ledger. A bid that cannot be filled in full is rejected in
// full. When the last unit of the last open slot is consumed the product
// transitions to BidCompleted.
func PlaceBid(p *model.Product, userID string, bidAmount decimal.Decimal, bidQuantity int64) (*model.Product, error) {
	if userID == "" || bidAmount.LessThanOrEqual(decimal.Zero) || bidQuantity <= 0 {
		return nil, ErrInvalidInput
	}
	if p.Status != model.StatusReadyToBid {
		return nil, ErrInvalidState
	}

	i := findSlot(p.BidSlots, bidAmount)
	if i < 0 {
		return nil, ErrSlotNotFound
	}
	if p.BidSlots[i].RemainingUnits < bidQuantity {
		return nil, ErrCapacityExceeded
	}

	next := p.Clone()

	next.BidSlots[i].RemainingUnits -= bidQuantity
	if next.BidSlots[i].RemainingUnits == 0 {
		next.BookedSlots++
	}
	if next.BookedSlots == len(next.BidSlots) {
		next.Status = model.StatusBidCompleted
	}

	invested := bidAmount.Mul(decimal.NewFromInt(bidQuantity))
	if j := findInvestor(next.BidUsers, userID); j >= 0 {
		next.BidUsers[j].InvestedAmount = next.BidUsers[j].InvestedAmount.Add(invested)
	} else {
		next.BidUsers = append(next.BidUsers, model.UserInvestment{
			UserID:         userID,
			InvestedAmount: invested,
		})
	}

	return next, nil
}

// findSlot returns the index of the slot priced exactly at price, or -1.
func findSlot(slots []model.Slot, price decimal.Decimal) int {
	for i, s := range slots {
		if s.SlotPrice.Equal(price) {
			return i
		}
	}
	return -1
}

// findInvestor returns the ledger index for userID, or -1.
func findInvestor(users []model.UserInvestment, userID string) int {
	for i, u := range users {
		if u.UserID == userID {
			return i
		}
	}
	return -1
}
