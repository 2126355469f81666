package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ndquoc/course-checkout/internal/core/domain"
	"github.com/ndquoc/course-checkout/internal/metrics"
	"github.com/ndquoc/course-checkout/internal/port"
)

type CheckoutService struct {
	db    port.DatabaseRepository
	cache port.CacheRepository
	log   *slog.Logger
}

func NewCheckoutService(db port.DatabaseRepository, cache port.CacheRepository, log *slog.Logger) *CheckoutService {
	return &CheckoutService{db: db, cache: cache, log: log}
}

// CouponPreview is the side-effect-free answer to a check-coupon request.
type CouponPreview struct {
	Valid    bool
	Reason   string
	Discount int64
	NewTotal int64
}

// CreateSession verifies every course is purchasable, computes the charge
// from stored prices (the client never supplies the amount), optionally
// evaluates a coupon, and persists a PENDING session. A failing coupon
// aborts the whole creation.
func (s *CheckoutService) CreateSession(ctx context.Context, userID string, courseIDs []string, couponCode string) (*domain.CheckoutSession, error) {
	if len(courseIDs) == 0 {
		return nil, domain.ErrEmptyCourseList
	}
	courseIDs = dedupeIDs(courseIDs)

	courses, err := s.purchasableCourses(ctx, courseIDs)
	if err != nil {
		return nil, err
	}
	prices := coursePrices(courseIDs, courses)

	var subtotal int64
	for _, p := range prices {
		subtotal += p
	}

	sess := &domain.CheckoutSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CourseIDs: courseIDs,
		Subtotal:  subtotal,
		Total:     subtotal,
		Status:    domain.SessionPending,
		CreatedAt: time.Now().UTC(),
	}

	if couponCode != "" {
		coupon, err := s.db.CouponByCode(ctx, couponCode)
		if err != nil {
			return nil, err
		}
		q, err := domain.Evaluate(coupon, prices, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		sess.CouponID = &coupon.ID
		sess.CouponCode = coupon.Code
		sess.Discount = q.Discount
		sess.Total = q.Total
	}

	if err := s.db.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	metrics.SessionsCreated.Inc()
	s.log.Info("checkout session created",
		slog.String("session_id", sess.ID),
		slog.String("user_id", userID),
		slog.Int("courses", len(courseIDs)),
		slog.Int64("total", sess.Total))
	return sess, nil
}

// ApplyCoupon re-quotes a PENDING session with the given coupon, replacing
// any previously applied one. Course ids and prices are re-derived from the
// stored session, never from client input. An ownership mismatch is reported
// as not-found so callers cannot probe for foreign sessions.
func (s *CheckoutService) ApplyCoupon(ctx context.Context, sessionID, userID, code string) (*domain.CheckoutSession, error) {
	sess, err := s.db.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, domain.ErrSessionNotFound
	}
	if sess.Status != domain.SessionPending {
		return nil, domain.ErrSessionCompleted
	}

	courses, err := s.purchasableCourses(ctx, sess.CourseIDs)
	if err != nil {
		return nil, err
	}
	prices := coursePrices(sess.CourseIDs, courses)

	coupon, err := s.db.CouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	q, err := domain.Evaluate(coupon, prices, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	// Guarded on status=PENDING in the store; a settlement racing past the
	// read above surfaces here as ErrSessionCompleted.
	if err := s.db.UpdateSessionCoupon(ctx, sess.ID, coupon, q); err != nil {
		return nil, err
	}

	sess.CouponID = &coupon.ID
	sess.CouponCode = coupon.Code
	sess.Subtotal = q.Subtotal
	sess.Discount = q.Discount
	sess.Total = q.Total
	return sess, nil
}

// CheckCoupon previews a coupon against caller-supplied course ids. It never
// touches sessions or usage counts. Coupon validity failures come back as an
// invalid preview, not an error.
func (s *CheckoutService) CheckCoupon(ctx context.Context, code string, courseIDs []string) (*CouponPreview, error) {
	if len(courseIDs) == 0 {
		return nil, domain.ErrEmptyCourseList
	}
	courseIDs = dedupeIDs(courseIDs)
	courses, err := s.purchasableCourses(ctx, courseIDs)
	if err != nil {
		return nil, err
	}
	prices := coursePrices(courseIDs, courses)

	coupon, err := s.db.CouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			return &CouponPreview{Valid: false, Reason: err.Error()}, nil
		}
		return nil, err
	}
	q, err := domain.Evaluate(coupon, prices, time.Now().UTC())
	if err != nil {
		return &CouponPreview{Valid: false, Reason: err.Error()}, nil
	}
	return &CouponPreview{Valid: true, Discount: q.Discount, NewTotal: q.Total}, nil
}

// SessionStatus reads a session with the same ownership masking as ApplyCoupon.
func (s *CheckoutService) SessionStatus(ctx context.Context, sessionID, userID string) (*domain.CheckoutSession, error) {
	sess, err := s.db.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// purchasableCourses resolves every id to a currently purchasable course,
// serving from the cache when warm. Any missing or non-purchasable id fails
// the whole lookup.
func (s *CheckoutService) purchasableCourses(ctx context.Context, ids []string) ([]domain.Course, error) {
	courses, ok, err := s.cache.GetCourses(ctx, ids)
	if err != nil {
		s.log.Warn("course cache read failed", slog.Any("error", err))
		ok = false
	}
	if !ok {
		courses, err = s.db.CoursesByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetCourses(ctx, courses); err != nil {
			s.log.Warn("course cache write failed", slog.Any("error", err))
		}
	}

	if len(courses) != len(ids) {
		return nil, domain.ErrCoursesUnavailable
	}
	for i := range courses {
		if !courses[i].Purchasable() {
			return nil, domain.ErrCoursesUnavailable
		}
	}
	return courses, nil
}

// dedupeIDs drops repeated course ids, keeping first-seen order. A course is
// bought at most once, so a repeated id must never be counted twice; the
// course cache returns one value per requested key, duplicates included.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// coursePrices orders prices to match the requested ids.
func coursePrices(ids []string, courses []domain.Course) []int64 {
	byID := make(map[string]int64, len(courses))
	for i := range courses {
		byID[courses[i].ID] = courses[i].Price
	}
	prices := make([]int64, 0, len(ids))
	for _, id := range ids {
		prices = append(prices, byID[id])
	}
	return prices
}
