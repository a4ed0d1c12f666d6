// Package limits enforces per-user investment limits across products.
//
// A user chasing one product can also spread bids across every product in
// the same category; both concentrations are capped. The correlated group
// for a product is its category.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/slotbid/bidding-engine/internal/model"
)

var (
	// ErrPerProductLimitExceeded is returned when a bid would push the
	// user's investment in a single product beyond the per-product maximum.
	ErrPerProductLimitExceeded = errors.New("limits: per-product investment limit exceeded")

	// ErrCategoryLimitExceeded is returned when a bid would push the user's
	// aggregate investment across a category beyond the category maximum.
	ErrCategoryLimitExceeded = errors.New("limits: category investment limit exceeded")
)

// InvestmentLimiter caps a user's exposure per product and per category.
// A zero limit disables the corresponding check.
type InvestmentLimiter struct {
	// MaxPerProduct is the maximum cumulative investment in any one product.
	MaxPerProduct decimal.Decimal

	// MaxPerCategory is the maximum aggregate investment across all
	// products sharing the target product's category.
	MaxPerCategory decimal.Decimal
}

// NewInvestmentLimiter creates a limiter with the given caps.
func NewInvestmentLimiter(maxPerProduct, maxPerCategory decimal.Decimal) *InvestmentLimiter {
	return &InvestmentLimiter{
		MaxPerProduct:  maxPerProduct,
		MaxPerCategory: maxPerCategory,
	}
}

// Check validates whether adding amountDelta to the user's position in
// targetProduct (of the given category) stays within limits. exposures is
// the user's current per-product investment, including targetProduct.
// Returns nil if within limits; investments exactly at a limit are allowed.
func (l *InvestmentLimiter) Check(
	targetProduct, category string,
	amountDelta decimal.Decimal,
	exposures []model.Exposure,
) error {
	inProduct := decimal.Zero
	inCategory := decimal.Zero
	for _, e := range exposures {
		if e.ProductID == targetProduct {
			inProduct = inProduct.Add(e.Amount)
		}
		if e.Category == category {
			inCategory = inCategory.Add(e.Amount)
		}
	}

	if l.MaxPerProduct.IsPositive() && inProduct.Add(amountDelta).GreaterThan(l.MaxPerProduct) {
		return ErrPerProductLimitExceeded
	}
	if l.MaxPerCategory.IsPositive() && inCategory.Add(amountDelta).GreaterThan(l.MaxPerCategory) {
		return ErrCategoryLimitExceeded
	}
	return nil
}
