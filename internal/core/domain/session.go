package domain

import "time"

type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionCompleted SessionStatus = "COMPLETED"
)

// CheckoutSession is a persisted pending purchase. Amounts are integer
// currency units; Total is always Subtotal minus Discount and never negative.
type CheckoutSession struct {
	ID          string
	UserID      string
	CourseIDs   []string
	Subtotal    int64
	Discount    int64
	Total       int64
	CouponID    *int64
	CouponCode  string
	Status      SessionStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
