package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/ndquoc/course-checkout/internal/core/domain"
	"github.com/ndquoc/course-checkout/internal/core/service"
	"github.com/ndquoc/course-checkout/internal/port"
)

const (
	testJWTSecret = "test-secret"
	testBankToken = "bank-token"
)

// Minimal in-memory repositories for routing tests. Behavior-level cases
// live in the service package; these cover status codes and the envelope.
type stubDB struct {
	mu       sync.Mutex
	sessions map[string]*domain.CheckoutSession
	coupons  map[string]*domain.Coupon
	courses  map[string]domain.Course
}

func newStubDB() *stubDB {
	return &stubDB{
		sessions: make(map[string]*domain.CheckoutSession),
		coupons:  make(map[string]*domain.Coupon),
		courses:  make(map[string]domain.Course),
	}
}

func (s *stubDB) CreateSession(_ context.Context, sess *domain.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *stubDB) SessionByID(_ context.Context, id string) (*domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *stubDB) UpdateSessionCoupon(_ context.Context, sessionID string, coupon *domain.Coupon, q domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if sess.Status != domain.SessionPending {
		return domain.ErrSessionCompleted
	}
	sess.CouponCode = coupon.Code
	sess.Discount = q.Discount
	sess.Total = q.Total
	return nil
}

func (s *stubDB) Settle(_ context.Context, order port.SettleOrder) (*port.SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[order.SessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if sess.Status == domain.SessionCompleted {
		cp := *sess
		return &port.SettleResult{Session: &cp, AlreadySettled: true}, nil
	}
	if order.EnforceAmount && order.Amount < sess.Total {
		return nil, domain.ErrInsufficientAmount
	}
	now := time.Now()
	sess.Status = domain.SessionCompleted
	sess.ProcessedAt = &now
	cp := *sess
	return &port.SettleResult{
		Session: &cp,
		Bill: &domain.Bill{
			ID: "bill-1", UserID: sess.UserID, Amount: sess.Total,
			Gateway: order.Gateway, TransactionID: order.TransactionID, Success: true,
		},
	}, nil
}

func (s *stubDB) CouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *stubDB) CoursesByIDs(_ context.Context, ids []string) ([]domain.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Course, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubDB) UserByID(_ context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id, Email: id + "@example.com", Name: id}, nil
}

type stubCache struct{}

func (stubCache) GetCourses(context.Context, []string) ([]domain.Course, bool, error) {
	return nil, false, nil
}
func (stubCache) SetCourses(context.Context, []domain.Course) error { return nil }
func (stubCache) TransactionSeen(context.Context, string) (bool, error) {
	return false, nil
}
func (stubCache) MarkTransactionSeen(context.Context, string) (bool, error) {
	return true, nil
}

type stubSink struct{}

func (stubSink) Enqueue(domain.SettlementEvent) bool { return true }

func newTestServer(t *testing.T, simulateEnabled bool) (*httptest.Server, *stubDB) {
	t.Helper()
	db := newStubDB()
	db.courses["go-basics"] = domain.Course{
		ID: "go-basics", Title: "Go Basics", Price: 1000,
		Status: domain.CourseStatusOngoing, Approval: domain.CourseApproved,
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	checkout := service.NewCheckoutService(db, stubCache{}, log)
	settlement := service.NewSettlementService(db, stubCache{}, stubSink{}, log)
	h := NewCheckoutHandler(checkout, settlement, log, simulateEnabled, testBankToken)

	srv := httptest.NewServer(NewRouter(h, testJWTSecret))
	t.Cleanup(srv.Close)
	return srv, db
}

func bearerToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Sub: sub,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

func TestCreateSession_RequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/checkout/create", "",
		CreateSessionRequest{CourseIDs: []string{"go-basics"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if env.Success {
		t.Error("expected success=false")
	}
}

func TestCreateSession_HTTP(t *testing.T) {
	srv, _ := newTestServer(t, false)
	token := bearerToken(t, "user-1")

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/checkout/create", token,
		CreateSessionRequest{CourseIDs: []string{"go-basics"}, TotalAmount: 1})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", resp.StatusCode, env.Error)
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got %+v", env)
	}

	b, _ := json.Marshal(env.Data)
	var sess SessionResponse
	json.Unmarshal(b, &sess)
	// Client-sent amount is ignored; the total comes from stored prices.
	if sess.TotalAmount != 1000 {
		t.Errorf("expected total 1000, got %d", sess.TotalAmount)
	}
	if sess.Status != string(domain.SessionPending) {
		t.Errorf("expected PENDING, got %s", sess.Status)
	}
}

func TestCreateSession_UnknownCourse400(t *testing.T) {
	srv, _ := newTestServer(t, false)
	token := bearerToken(t, "user-1")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/checkout/create", token,
		CreateSessionRequest{CourseIDs: []string{"missing"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSessionStatus_ForeignSession404(t *testing.T) {
	srv, db := newTestServer(t, false)
	db.sessions["sess-1"] = &domain.CheckoutSession{
		ID: "sess-1", UserID: "owner", CourseIDs: []string{"go-basics"},
		Subtotal: 1000, Total: 1000, Status: domain.SessionPending,
	}

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/checkout/sess-1/status", bearerToken(t, "intruder"), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/checkout/sess-1/status", bearerToken(t, "owner"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for owner, got %d", resp.StatusCode)
	}
}

func TestApplyCoupon_CompletedSession409(t *testing.T) {
	srv, db := newTestServer(t, false)
	now := time.Now()
	db.sessions["sess-done"] = &domain.CheckoutSession{
		ID: "sess-done", UserID: "user-1", CourseIDs: []string{"go-basics"},
		Subtotal: 1000, Total: 1000, Status: domain.SessionCompleted, ProcessedAt: &now,
	}
	db.coupons["SAVE"] = &domain.Coupon{ID: 1, Code: "SAVE", Type: domain.DiscountFixed, Value: 100, Active: true}

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/checkout/sess-done/apply-coupon",
		bearerToken(t, "user-1"), ApplyCouponRequest{Code: "SAVE"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
}

func TestSimulateWebhook_DisabledIs404(t *testing.T) {
	srv, db := newTestServer(t, false)
	db.sessions["sess-1"] = &domain.CheckoutSession{
		ID: "sess-1", UserID: "user-1", CourseIDs: []string{"go-basics"},
		Subtotal: 1000, Total: 1000, Status: domain.SessionPending,
	}

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/checkout/webhook/simulate", "",
		SimulateWebhookRequest{CheckoutID: "sess-1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 when disabled, got %d", resp.StatusCode)
	}
}

func TestSimulateWebhook_Enabled(t *testing.T) {
	srv, db := newTestServer(t, true)
	db.sessions["sess-1"] = &domain.CheckoutSession{
		ID: "sess-1", UserID: "user-1", CourseIDs: []string{"go-basics"},
		Subtotal: 1000, Total: 1000, Status: domain.SessionPending,
	}

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/checkout/webhook/simulate", "",
		SimulateWebhookRequest{CheckoutID: "sess-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, env.Error)
	}
	if db.sessions["sess-1"].Status != domain.SessionCompleted {
		t.Errorf("expected session completed, got %s", db.sessions["sess-1"].Status)
	}
}

func TestBankWebhook_TokenRequired(t *testing.T) {
	srv, _ := newTestServer(t, false)

	body, _ := json.Marshal(BankWebhookRequest{})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/checkout/webhook/bank", bytes.NewReader(body))
	req.Header.Set("X-Secure-Token", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestBankWebhook_SettlesSession(t *testing.T) {
	srv, db := newTestServer(t, false)
	db.sessions["aaaa1111-bank"] = &domain.CheckoutSession{
		ID: "aaaa1111-bank", UserID: "user-1", CourseIDs: []string{"go-basics"},
		Subtotal: 1000, Total: 1000, Status: domain.SessionPending,
	}

	body, _ := json.Marshal(BankWebhookRequest{Transactions: []BankTransactionDTO{
		{Description: "ORDER aaaa1111-bank", Amount: 1000, TransactionID: "txn-1"},
		{Description: "unrelated transfer", Amount: 50, TransactionID: "txn-2"},
	}})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/checkout/webhook/bank", bytes.NewReader(body))
	req.Header.Set("X-Secure-Token", testBankToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var env struct {
		Success bool `json:"success"`
		Data    struct {
			Results []BankItemResponse `json:"results"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(env.Data.Results))
	}
	if env.Data.Results[0].Status != service.BankItemSettled {
		t.Errorf("expected settled, got %s (%s)", env.Data.Results[0].Status, env.Data.Results[0].Reason)
	}
	if env.Data.Results[1].Status != service.BankItemSkipped {
		t.Errorf("expected skipped, got %s", env.Data.Results[1].Status)
	}
	if db.sessions["aaaa1111-bank"].Status != domain.SessionCompleted {
		t.Errorf("expected session completed, got %s", db.sessions["aaaa1111-bank"].Status)
	}
}
