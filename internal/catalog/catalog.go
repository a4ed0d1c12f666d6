// Package catalog validates product intake: the fields an admin submits
// before any slot exists. Validation here is defensive — the transport
// layer binds and type-checks the request first.
package catalog

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// imageRegex accepts only static image URLs ending in a known extension.
var imageRegex = regexp.MustCompile(`\.(jpeg|jpg|png)$`)

var (
	ErrMissingName     = errors.New("catalog: product name is required")
	ErrMissingCategory = errors.New("catalog: product category is required")
	ErrInvalidImage    = errors.New("catalog: image must be a jpeg, jpg or png URL")
	ErrInvalidPrice    = errors.New("catalog: price must be positive")
)

// Listing is a validated product intake.
type Listing struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
}

// NewListing validates the intake fields and returns a Listing.
func NewListing(name, category, image string, price decimal.Decimal) (*Listing, error) {
	if name == "" {
		return nil, ErrMissingName
	}
	if category == "" {
		return nil, ErrMissingCategory
	}
	if !imageRegex.MatchString(image) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidImage, image)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidPrice
	}
	return &Listing{
		Name:     name,
		Category: category,
		Image:    image,
		Price:    price,
	}, nil
}
