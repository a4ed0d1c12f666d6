// Package draw implements weighted-random winner selection over a completed
// product's investment ledger.
//
// Each bidder's probability of winning is proportional to their cumulative
// invested amount. The draw space is bounded by the total product price, not
// the total invested amount: if the two differ, the last bidder in ledger
// order absorbs the residual probability mass (see DESIGN.md).
//
// All monetary values use shopspring/decimal — never float64 for money.
package draw

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/slotbid/bidding-engine/internal/model"
)

var (
	// ErrInvalidState is returned when the product is not in BidCompleted,
	// including repeat declarations after Sold.
	ErrInvalidState = errors.New("draw: winner can only be declared on a completed product")

	// ErrEmptyLedger is returned when the completed product has no bidders.
	ErrEmptyLedger = errors.New("draw: investment ledger is empty")
)

// Source supplies the entropy for a draw. *math/rand.Rand satisfies it;
// tests inject fixed sequences to make selection deterministic.
type Source interface {
	Float64() float64
}

// Draw maps a uniform sample u ∈ [0,1) onto the integer range [1, price]
// by ceiling: r = ⌈u·price⌉, clamped to a minimum of 1 so a zero sample
// still lands inside the range.
func Draw(price decimal.Decimal, src Source) decimal.Decimal {
	r := decimal.NewFromFloat(src.Float64()).Mul(price).Ceil()
	if r.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return r
}

// PrefixSums builds the cumulative investment sequence over the ledger in
// stored (first-bid) order: C[i] = Σ invested[0..i]. The sequence is
// monotonically non-decreasing because invested amounts are non-negative.
func PrefixSums(users []model.UserInvestment) []decimal.Decimal {
	sums := make([]decimal.Decimal, len(users))
	running := decimal.Zero
	for i, u := range users {
		running = running.Add(u.InvestedAmount)
		sums[i] = running
	}
	return sums
}

// SelectIndex locates the winner for draw value r: the smallest index i with
// sums[i] >= r, by lower-bound binary search. An r beyond the last prefix
// sum still selects the last index — the draw never fails out of range.
func SelectIndex(sums []decimal.Decimal, r decimal.Decimal) int {
	low, high := 0, len(sums)-1
	for low < high {
		mid := (low + high) / 2
		if sums[mid].LessThan(r) {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low
}

// DeclareWinner draws a winner for a completed product and returns the new
// product value with BidWinner set and status Sold. The transition is
// terminal: a second call fails with ErrInvalidState and the recorded
// winner is untouched.
func DeclareWinner(p *model.Product, src Source) (*model.Product, string, error) {
	if p.Status != model.StatusBidCompleted {
		return nil, "", ErrInvalidState
	}
	if len(p.BidUsers) == 0 {
		return nil, "", ErrEmptyLedger
	}

	sums := PrefixSums(p.BidUsers)
	r := Draw(p.Price, src)
	winner := p.BidUsers[SelectIndex(sums, r)].UserID

	next := p.Clone()
	next.BidWinner = winner
	next.Status = model.StatusSold
	return next, winner, nil
}
