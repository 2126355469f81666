package port

import (
	"context"

	"github.com/ndquoc/course-checkout/internal/core/domain"
)

type CacheRepository interface {
	// GetCourses returns cached course records. ok is false unless every
	// requested id was present.
	GetCourses(ctx context.Context, ids []string) ([]domain.Course, bool, error)

	// SetCourses caches course records with the adapter's TTL.
	SetCourses(ctx context.Context, courses []domain.Course) error

	// TransactionSeen reports whether a bank transaction id has already been
	// settled. Fast-path duplicate filter only; the session status check in
	// the store stays authoritative.
	TransactionSeen(ctx context.Context, txnID string) (bool, error)

	// MarkTransactionSeen records a bank transaction id after its settlement
	// committed. Returns false if it was already recorded.
	MarkTransactionSeen(ctx context.Context, txnID string) (bool, error)
}
