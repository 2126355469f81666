package domain

import "time"

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

type Coupon struct {
	ID        int64
	Code      string
	Type      DiscountType
	Value     int64
	Active    bool
	ExpiresAt *time.Time
	MaxUses   *int64
	UsedCount int64
}

// Quote is the result of evaluating a coupon against a set of course prices.
type Quote struct {
	Subtotal int64
	Discount int64
	Total    int64
}

// Validate checks redeemability at the given instant. Each failing
// precondition returns its own sentinel so callers can report the exact
// reason. It does not consume usage.
func (c *Coupon) Validate(now time.Time) error {
	if !c.Active {
		return ErrCouponInactive
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return ErrCouponExpired
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return ErrCouponExhausted
	}
	return nil
}

// Evaluate computes the discount a coupon grants over the given prices.
// Pure: no side effects, safe to call concurrently. The discount is clamped
// to [0, subtotal] so the payable amount never goes negative.
func Evaluate(c *Coupon, prices []int64, now time.Time) (Quote, error) {
	if err := c.Validate(now); err != nil {
		return Quote{}, err
	}

	var subtotal int64
	for _, p := range prices {
		subtotal += p
	}

	var discount int64
	switch c.Type {
	case DiscountPercentage:
		discount = subtotal * c.Value / 100
	case DiscountFixed:
		discount = c.Value
	}

	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	return Quote{Subtotal: subtotal, Discount: discount, Total: subtotal - discount}, nil
}
