package domain

// Routing keys on the payment exchange.
const (
	RKPaymentSettled = "payment.settled"
)

// SettlementEvent is published after a settlement transaction commits.
// It carries everything the notifier needs so the worker never has to
// read the store.
type SettlementEvent struct {
	Event      string   `json:"event"`
	Version    int      `json:"version"`
	OccurredAt string   `json:"occurred_at"`
	SessionID  string   `json:"session_id"`
	BillID     string   `json:"bill_id"`
	UserID     string   `json:"user_id"`
	UserEmail  string   `json:"user_email,omitempty"`
	UserName   string   `json:"user_name,omitempty"`
	CourseIDs  []string `json:"course_ids"`
	Amount     int64    `json:"amount"`
	Discount   int64    `json:"discount"`
	CouponCode string   `json:"coupon_code,omitempty"`
	Gateway    string   `json:"gateway"`
}
