package domain

import "time"

const EnrollmentActive = "Active"

// Enrollment is unique per (user, course); settlement upserts it to Active.
type Enrollment struct {
	UserID    string
	CourseID  string
	Status    string
	BillID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Bill is the settlement record. Written once per successful settlement,
// immutable afterward.
type Bill struct {
	ID            string
	UserID        string
	Amount        int64
	Gateway       string
	TransactionID string
	Success       bool
	CouponCode    string
	Discount      int64
	CreatedAt     time.Time
}
