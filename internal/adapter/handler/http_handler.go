package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ndquoc/course-checkout/internal/core/domain"
	"github.com/ndquoc/course-checkout/internal/core/service"
)

// Envelope is the uniform response shape of every endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CheckoutHandler struct {
	checkout   *service.CheckoutService
	settlement *service.SettlementService
	log        *slog.Logger

	simulateEnabled bool
	bankToken       string
}

func NewCheckoutHandler(checkout *service.CheckoutService, settlement *service.SettlementService, log *slog.Logger, simulateEnabled bool, bankToken string) *CheckoutHandler {
	return &CheckoutHandler{
		checkout:        checkout,
		settlement:      settlement,
		log:             log,
		simulateEnabled: simulateEnabled,
		bankToken:       bankToken,
	}
}

// NewRouter wires the HTTP surface. Webhooks live outside the JWT group:
// the bank path authenticates with a shared secret, the simulate path is
// gated by configuration.
func NewRouter(h *CheckoutHandler, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/checkout", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(Auth(jwtSecret))
			r.Post("/create", h.CreateSession)
			r.Post("/check-coupon", h.CheckCoupon)
			r.Post("/{id}/apply-coupon", h.ApplyCoupon)
			r.Get("/{id}/status", h.SessionStatus)
		})
		r.Post("/webhook/simulate", h.SimulateWebhook)
		r.Post("/webhook/bank", h.BankWebhook)
	})

	return r
}

// --- Request / Response DTOs ---

type CreateSessionRequest struct {
	CourseIDs  []string `json:"courseIds"`
	CouponCode string   `json:"couponCode,omitempty"`
	// TotalAmount is accepted for client display symmetry but never used:
	// the charge is always computed from stored course prices.
	TotalAmount int64 `json:"totalAmount,omitempty"`
}

type CheckCouponRequest struct {
	Code      string   `json:"code"`
	CourseIDs []string `json:"courseIds"`
}

type ApplyCouponRequest struct {
	Code string `json:"code"`
}

type SimulateWebhookRequest struct {
	CheckoutID string `json:"checkoutId"`
}

type BankWebhookRequest struct {
	Transactions []BankTransactionDTO `json:"transactions"`
}

type BankTransactionDTO struct {
	Description   string `json:"description"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transactionId"`
}

type SessionResponse struct {
	ID             string   `json:"id"`
	CourseIDs      []string `json:"courseIds"`
	TotalAmount    int64    `json:"totalAmount"`
	DiscountAmount int64    `json:"discountAmount"`
	CouponCode     string   `json:"couponCode,omitempty"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"createdAt"`
	ProcessedAt    string   `json:"processedAt,omitempty"`
}

type ApplyCouponResponse struct {
	TotalAmount    int64  `json:"totalAmount"`
	DiscountAmount int64  `json:"discountAmount"`
	CouponCode     string `json:"couponCode"`
}

type CheckCouponResponse struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	DiscountAmount int64  `json:"discountAmount"`
	NewTotal       int64  `json:"newTotal"`
}

type BankItemResponse struct {
	TransactionID string `json:"transactionId"`
	SessionID     string `json:"sessionId,omitempty"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

func toSessionResponse(s *domain.CheckoutSession) SessionResponse {
	resp := SessionResponse{
		ID:             s.ID,
		CourseIDs:      s.CourseIDs,
		TotalAmount:    s.Total,
		DiscountAmount: s.Discount,
		CouponCode:     s.CouponCode,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.ProcessedAt != nil {
		resp.ProcessedAt = s.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// --- Handlers ---

func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := h.checkout.CreateSession(r.Context(), userID(r), req.CourseIDs, req.CouponCode)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *CheckoutHandler) CheckCoupon(w http.ResponseWriter, r *http.Request) {
	var req CheckCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	preview, err := h.checkout.CheckCoupon(r.Context(), req.Code, req.CourseIDs)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, CheckCouponResponse{
		Valid:          preview.Valid,
		Reason:         preview.Reason,
		DiscountAmount: preview.Discount,
		NewTotal:       preview.NewTotal,
	})
}

func (h *CheckoutHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ApplyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := h.checkout.ApplyCoupon(r.Context(), chi.URLParam(r, "id"), userID(r), req.Code)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, ApplyCouponResponse{
		TotalAmount:    sess.Total,
		DiscountAmount: sess.Discount,
		CouponCode:     sess.CouponCode,
	})
}

func (h *CheckoutHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.SessionStatus(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, toSessionResponse(sess))
}

func (h *CheckoutHandler) SimulateWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.simulateEnabled {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	var req SimulateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CheckoutID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.settlement.SettleSimulated(r.Context(), req.CheckoutID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"session":        toSessionResponse(res.Session),
		"alreadySettled": res.AlreadySettled,
	})
}

func (h *CheckoutHandler) BankWebhook(w http.ResponseWriter, r *http.Request) {
	if !secureTokenMatch(r.Header.Get("X-Secure-Token"), h.bankToken) {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	var req BankWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txns := make([]service.BankTransaction, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		txns = append(txns, service.BankTransaction{
			Description:   t.Description,
			Amount:        t.Amount,
			TransactionID: t.TransactionID,
		})
	}

	results := h.settlement.SettleBankBatch(r.Context(), txns)
	out := make([]BankItemResponse, 0, len(results))
	for _, res := range results {
		out = append(out, BankItemResponse{
			TransactionID: res.TransactionID,
			SessionID:     res.SessionID,
			Status:        res.Status,
			Reason:        res.Reason,
		})
	}
	writeData(w, http.StatusOK, map[string]any{"results": out})
}

// --- Helpers ---

func (h *CheckoutHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyCourseList),
		errors.Is(err, domain.ErrCoursesUnavailable),
		errors.Is(err, domain.ErrCouponInactive),
		errors.Is(err, domain.ErrCouponExpired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrCouponNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionCompleted),
		errors.Is(err, domain.ErrCouponExhausted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		// Storage detail stays internal.
		h.log.Error("request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
