package notifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ndquoc/course-checkout/internal/core/domain"
)

// Notifier delivers a rendered message to the learner. The console
// implementation stands in for email or push delivery.
type Notifier interface {
	Notify(subject, message string) error
}

type ConsoleNotifier struct {
	log *slog.Logger
}

func NewConsole(log *slog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{log: log}
}

func (c *ConsoleNotifier) Notify(subject, message string) error {
	c.log.Info("notification sent",
		slog.String("subject", subject),
		slog.String("message", message))
	return nil
}

// RenderSettlement turns a settlement event payload into the subject and
// body sent to the purchaser.
func RenderSettlement(body []byte) (subject, message string, err error) {
	var evt domain.SettlementEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return "", "", fmt.Errorf("decode settlement event: %w", err)
	}

	name := evt.UserName
	if name == "" {
		name = "learner"
	}
	subject = "Your course purchase is confirmed"
	message = fmt.Sprintf("Hi %s, payment of %s for %d course(s) was received (order %s). Courses: %s.",
		name,
		formatAmount(evt.Amount),
		len(evt.CourseIDs),
		evt.SessionID,
		strings.Join(evt.CourseIDs, ", "))
	if evt.CouponCode != "" {
		message += fmt.Sprintf(" Coupon %s saved you %s.", evt.CouponCode, formatAmount(evt.Discount))
	}
	return subject, message, nil
}

func formatAmount(v int64) string {
	return fmt.Sprintf("%d VND", v)
}
