package port

import (
	"context"

	"github.com/ndquoc/course-checkout/internal/core/domain"
)

// SettleOrder carries one payment confirmation into the settlement
// transaction. EnforceAmount is set on the bank path only.
type SettleOrder struct {
	SessionID     string
	Gateway       string
	TransactionID string
	Amount        int64
	EnforceAmount bool
}

type SettleResult struct {
	Session *domain.CheckoutSession
	Bill    *domain.Bill

	// AlreadySettled reports the idempotency short-circuit: the session was
	// COMPLETED before this call and no side effects were executed.
	AlreadySettled bool
}

type DatabaseRepository interface {
	// CreateSession persists a new PENDING session.
	CreateSession(ctx context.Context, s *domain.CheckoutSession) error

	// SessionByID returns domain.ErrSessionNotFound when absent.
	SessionByID(ctx context.Context, id string) (*domain.CheckoutSession, error)

	// UpdateSessionCoupon rewrites the session's coupon and amounts. The
	// update is guarded on status=PENDING; a session completed in between
	// yields domain.ErrSessionCompleted.
	UpdateSessionCoupon(ctx context.Context, sessionID string, coupon *domain.Coupon, q domain.Quote) error

	// Settle runs the whole settlement as one transaction: bill insert,
	// enrollment upserts, wishlist cleanup, conditional coupon increment,
	// session completion. Any error rolls back every write.
	Settle(ctx context.Context, order SettleOrder) (*SettleResult, error)

	CouponByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// CoursesByIDs returns only rows that exist; callers decide what a
	// missing id means.
	CoursesByIDs(ctx context.Context, ids []string) ([]domain.Course, error)

	UserByID(ctx context.Context, id string) (*domain.User, error)
}
