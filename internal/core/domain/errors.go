package domain

import "errors"

var (
	ErrEmptyCourseList    = errors.New("course list is empty")
	ErrCoursesUnavailable = errors.New("one or more courses are not purchasable")

	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSessionCompleted = errors.New("checkout session already completed")

	ErrCouponNotFound  = errors.New("coupon not found")
	ErrCouponInactive  = errors.New("coupon is inactive")
	ErrCouponExpired   = errors.New("coupon has expired")
	ErrCouponExhausted = errors.New("coupon usage limit reached")

	ErrInsufficientAmount = errors.New("confirmed amount below session total")
)
