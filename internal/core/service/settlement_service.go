package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/ndquoc/course-checkout/internal/core/domain"
	"github.com/ndquoc/course-checkout/internal/metrics"
	"github.com/ndquoc/course-checkout/internal/port"
)

const (
	GatewaySimulated = "simulated"
	GatewayBank      = "bank"
)

// orderRef matches an "ORDER <id>" reference inside free-text bank transfer
// descriptions, case-insensitively and tolerant of separators.
var orderRef = regexp.MustCompile(`(?i)\border\b[\s:#-]*([0-9a-zA-Z-]{8,})`)

// ParseOrderRef extracts a session id from a transfer description.
func ParseOrderRef(description string) (string, bool) {
	m := orderRef.FindStringSubmatch(description)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SettlementSink accepts post-commit settlement events for asynchronous
// delivery. Enqueue must never block; false means the event was dropped.
type SettlementSink interface {
	Enqueue(evt domain.SettlementEvent) bool
}

// BankTransaction is one entry of a bank webhook batch.
type BankTransaction struct {
	Description   string
	Amount        int64
	TransactionID string
}

// Per-item outcomes of a bank batch. The batch itself always succeeds;
// individual items report what happened to them.
const (
	BankItemSettled      = "settled"
	BankItemDuplicate    = "duplicate"
	BankItemSkipped      = "skipped"
	BankItemInsufficient = "insufficient_amount"
	BankItemFailed       = "failed"
)

type BankItemResult struct {
	TransactionID string
	SessionID     string
	Status        string
	Reason        string
}

type SettlementService struct {
	db    port.DatabaseRepository
	cache port.CacheRepository
	sink  SettlementSink
	log   *slog.Logger
}

func NewSettlementService(db port.DatabaseRepository, cache port.CacheRepository, sink SettlementSink, log *slog.Logger) *SettlementService {
	return &SettlementService{db: db, cache: cache, sink: sink, log: log}
}

// SettleSimulated settles a session directly by id without amount
// enforcement. Exposed on the dev-only simulate endpoint.
func (s *SettlementService) SettleSimulated(ctx context.Context, sessionID string) (*port.SettleResult, error) {
	return s.settle(ctx, port.SettleOrder{
		SessionID:     sessionID,
		Gateway:       GatewaySimulated,
		TransactionID: fmt.Sprintf("sim-%s", uuid.NewString()),
	})
}

// SettleBankBatch processes a batch of bank transfer confirmations. A failure
// on one item never aborts the rest: unmatched descriptions and unknown
// sessions are skipped, short amounts leave their session pending.
func (s *SettlementService) SettleBankBatch(ctx context.Context, txns []BankTransaction) []BankItemResult {
	results := make([]BankItemResult, 0, len(txns))
	for _, txn := range txns {
		results = append(results, s.settleBankItem(ctx, txn))
	}
	return results
}

func (s *SettlementService) settleBankItem(ctx context.Context, txn BankTransaction) BankItemResult {
	res := BankItemResult{TransactionID: txn.TransactionID}

	sessionID, ok := ParseOrderRef(txn.Description)
	if !ok {
		res.Status = BankItemSkipped
		res.Reason = "no order reference in description"
		return res
	}
	res.SessionID = sessionID

	if seen, err := s.cache.TransactionSeen(ctx, txn.TransactionID); err != nil {
		s.log.Warn("dedupe lookup failed", slog.Any("error", err))
	} else if seen {
		res.Status = BankItemDuplicate
		return res
	}

	settled, err := s.settle(ctx, port.SettleOrder{
		SessionID:     sessionID,
		Gateway:       GatewayBank,
		TransactionID: txn.TransactionID,
		Amount:        txn.Amount,
		EnforceAmount: true,
	})
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		res.Status = BankItemSkipped
		res.Reason = "unknown session"
	case errors.Is(err, domain.ErrInsufficientAmount):
		res.Status = BankItemInsufficient
		res.Reason = "amount below session total, left pending"
	case errors.Is(err, domain.ErrCouponExhausted):
		res.Status = BankItemFailed
		res.Reason = domain.ErrCouponExhausted.Error()
	case err != nil:
		res.Status = BankItemFailed
		res.Reason = "settlement failed"
	case settled.AlreadySettled:
		res.Status = BankItemDuplicate
	default:
		res.Status = BankItemSettled
		if _, err := s.cache.MarkTransactionSeen(ctx, txn.TransactionID); err != nil {
			s.log.Warn("dedupe mark failed", slog.Any("error", err))
		}
	}
	return res
}

// settle runs the transactional settlement and, on a fresh completion,
// hands the event to the dispatcher. Everything after the commit is
// best-effort and never fails the settlement.
func (s *SettlementService) settle(ctx context.Context, order port.SettleOrder) (*port.SettleResult, error) {
	start := time.Now()
	res, err := s.db.Settle(ctx, order)
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SettlementsFailed.Inc()
		s.log.Error("settlement failed",
			slog.String("session_id", order.SessionID),
			slog.String("gateway", order.Gateway),
			slog.Any("error", err))
		return nil, err
	}
	if res.AlreadySettled {
		metrics.SettlementsDuplicate.Inc()
		s.log.Info("settlement short-circuited, session already completed",
			slog.String("session_id", order.SessionID))
		return res, nil
	}

	metrics.SettlementsCompleted.Inc()
	s.log.Info("session settled",
		slog.String("session_id", res.Session.ID),
		slog.String("bill_id", res.Bill.ID),
		slog.Int64("amount", res.Bill.Amount))

	s.dispatch(ctx, res)
	return res, nil
}

func (s *SettlementService) dispatch(ctx context.Context, res *port.SettleResult) {
	evt := domain.SettlementEvent{
		Event:      domain.RKPaymentSettled,
		Version:    1,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		SessionID:  res.Session.ID,
		BillID:     res.Bill.ID,
		UserID:     res.Session.UserID,
		CourseIDs:  res.Session.CourseIDs,
		Amount:     res.Bill.Amount,
		Discount:   res.Bill.Discount,
		CouponCode: res.Bill.CouponCode,
		Gateway:    res.Bill.Gateway,
	}

	// The user lookup only enriches the notification; a miss is not a
	// settlement problem.
	if user, err := s.db.UserByID(ctx, res.Session.UserID); err != nil {
		s.log.Warn("user lookup for notification failed",
			slog.String("user_id", res.Session.UserID),
			slog.Any("error", err))
	} else {
		evt.UserEmail = user.Email
		evt.UserName = user.Name
	}

	if !s.sink.Enqueue(evt) {
		metrics.NotificationsDropped.Inc()
		s.log.Error("notification queue full, event dropped",
			slog.String("session_id", evt.SessionID))
	}
}
