package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ndquoc/course-checkout/internal/core/domain"
	"github.com/ndquoc/course-checkout/internal/port"
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the schema when it does not exist yet. Courses, users and
// wishlists belong to the wider marketplace; they are created here so the
// service and its integration tests can run against an empty database.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkout_sessions (
			id CHAR(36) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			course_ids TEXT NOT NULL,
			subtotal BIGINT NOT NULL,
			discount BIGINT NOT NULL DEFAULT 0,
			total BIGINT NOT NULL,
			coupon_id BIGINT NULL,
			coupon_code VARCHAR(64) NOT NULL DEFAULT '',
			status ENUM('PENDING','COMPLETED') NOT NULL DEFAULT 'PENDING',
			created_at DATETIME NOT NULL,
			processed_at DATETIME NULL,
			KEY idx_sessions_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS coupons (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			code VARCHAR(64) NOT NULL UNIQUE,
			discount_type ENUM('PERCENTAGE','FIXED') NOT NULL,
			discount_value BIGINT NOT NULL,
			active TINYINT(1) NOT NULL DEFAULT 1,
			expires_at DATETIME NULL,
			max_uses BIGINT NULL,
			used_count BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			price BIGINT NOT NULL,
			status VARCHAR(32) NOT NULL,
			approval VARCHAR(32) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			user_id VARCHAR(64) NOT NULL,
			course_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			bill_id CHAR(36) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS bills (
			id CHAR(36) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL,
			gateway VARCHAR(32) NOT NULL,
			transaction_id VARCHAR(128) NOT NULL,
			success TINYINT(1) NOT NULL,
			coupon_code VARCHAR(64) NOT NULL DEFAULT '',
			discount BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			KEY idx_bills_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS wishlists (
			user_id VARCHAR(64) NOT NULL,
			course_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (user_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			email VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateSession(ctx context.Context, s *domain.CheckoutSession) error {
	ids, err := json.Marshal(s.CourseIDs)
	if err != nil {
		return fmt.Errorf("marshal course ids: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO checkout_sessions
			(id, user_id, course_ids, subtotal, discount, total, coupon_id, coupon_code, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, ids, s.Subtotal, s.Discount, s.Total,
		s.CouponID, s.CouponCode, s.Status, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) SessionByID(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, course_ids, subtotal, discount, total, coupon_id, coupon_code, status, created_at, processed_at
		FROM checkout_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (m *MySQLAdapter) UpdateSessionCoupon(ctx context.Context, sessionID string, coupon *domain.Coupon, q domain.Quote) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET coupon_id = ?, coupon_code = ?, subtotal = ?, discount = ?, total = ?
		WHERE id = ? AND status = 'PENDING'`,
		coupon.ID, coupon.Code, q.Subtotal, q.Discount, q.Total, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session coupon: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// The driver reports changed rows, not matched rows, so re-applying
		// identical values also lands here. The recheck distinguishes a
		// missing row, a completed row, and the no-op update.
		var status string
		err := m.db.QueryRowContext(ctx, `SELECT status FROM checkout_sessions WHERE id = ?`, sessionID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("recheck session: %w", err)
		}
		if status == string(domain.SessionPending) {
			return nil
		}
		return domain.ErrSessionCompleted
	}
	return nil
}

func (m *MySQLAdapter) CouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var (
		c         domain.Coupon
		expiresAt sql.NullTime
		maxUses   sql.NullInt64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, code, discount_type, discount_value, active, expires_at, max_uses, used_count
		FROM coupons WHERE code = ?`, code,
	).Scan(&c.ID, &c.Code, &c.Type, &c.Value, &c.Active, &expiresAt, &maxUses, &c.UsedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query coupon: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	if maxUses.Valid {
		n := maxUses.Int64
		c.MaxUses = &n
	}
	return &c, nil
}

func (m *MySQLAdapter) CoursesByIDs(ctx context.Context, ids []string) ([]domain.Course, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, title, price, status, approval
		FROM courses WHERE id IN (%s)`, placeholders(len(ids)))
	rows, err := m.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	defer rows.Close()

	var out []domain.Course
	for rows.Next() {
		var c domain.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Price, &c.Status, &c.Approval); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) UserByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := m.db.QueryRowContext(ctx, `SELECT id, email, name FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name)
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", id, err)
	}
	return &u, nil
}

// Settle executes the settlement as one transaction. The session row is
// locked at load so concurrent attempts for the same session serialize; the
// coupon increment is a conditional UPDATE so contention across sessions
// resolves to at most max_uses redemptions.
func (m *MySQLAdapter) Settle(ctx context.Context, order port.SettleOrder) (*port.SettleResult, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, course_ids, subtotal, discount, total, coupon_id, coupon_code, status, created_at, processed_at
		FROM checkout_sessions WHERE id = ? FOR UPDATE`, order.SessionID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	// Idempotency guard: COMPLETED is absorbing, re-delivery is a success
	// with zero side effects.
	if sess.Status == domain.SessionCompleted {
		return &port.SettleResult{Session: sess, AlreadySettled: true}, nil
	}

	if order.EnforceAmount && order.Amount < sess.Total {
		return nil, domain.ErrInsufficientAmount
	}

	now := time.Now().UTC()
	bill := &domain.Bill{
		ID:            uuid.NewString(),
		UserID:        sess.UserID,
		Amount:        sess.Total,
		Gateway:       order.Gateway,
		TransactionID: order.TransactionID,
		Success:       true,
		CouponCode:    sess.CouponCode,
		Discount:      sess.Discount,
		CreatedAt:     now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bills (id, user_id, amount, gateway, transaction_id, success, coupon_code, discount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bill.ID, bill.UserID, bill.Amount, bill.Gateway, bill.TransactionID,
		bill.Success, bill.CouponCode, bill.Discount, bill.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert bill: %w", err)
	}

	for _, courseID := range sess.CourseIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO enrollments (user_id, course_id, status, bill_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status), bill_id = VALUES(bill_id), updated_at = VALUES(updated_at)`,
			sess.UserID, courseID, domain.EnrollmentActive, bill.ID, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("upsert enrollment %s: %w", courseID, err)
		}
	}

	delQuery := fmt.Sprintf(`DELETE FROM wishlists WHERE user_id = ? AND course_id IN (%s)`,
		placeholders(len(sess.CourseIDs)))
	if _, err := tx.ExecContext(ctx, delQuery, append([]any{sess.UserID}, stringArgs(sess.CourseIDs)...)...); err != nil {
		return nil, fmt.Errorf("clear wishlist: %w", err)
	}

	if sess.CouponID != nil {
		result, err := tx.ExecContext(ctx, `
			UPDATE coupons SET used_count = used_count + 1
			WHERE id = ? AND (max_uses IS NULL OR used_count < max_uses)`,
			*sess.CouponID,
		)
		if err != nil {
			return nil, fmt.Errorf("increment coupon usage: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			// The last unit was consumed by a racing settlement between
			// coupon application and now; everything above rolls back.
			return nil, domain.ErrCouponExhausted
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE checkout_sessions SET status = 'COMPLETED', processed_at = ? WHERE id = ?`,
		now, sess.ID,
	); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	sess.Status = domain.SessionCompleted
	sess.ProcessedAt = &now
	return &port.SettleResult{Session: sess, Bill: bill}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.CheckoutSession, error) {
	var (
		s           domain.CheckoutSession
		rawIDs      []byte
		couponID    sql.NullInt64
		processedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &rawIDs, &s.Subtotal, &s.Discount, &s.Total,
		&couponID, &s.CouponCode, &s.Status, &s.CreatedAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(rawIDs, &s.CourseIDs); err != nil {
		return nil, fmt.Errorf("unmarshal course ids: %w", err)
	}
	if couponID.Valid {
		id := couponID.Int64
		s.CouponID = &id
	}
	if processedAt.Valid {
		t := processedAt.Time
		s.ProcessedAt = &t
	}
	return &s, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
