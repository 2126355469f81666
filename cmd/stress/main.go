package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/ndquoc/course-checkout/internal/adapter/storage"
	"github.com/ndquoc/course-checkout/internal/core/domain"
	"github.com/ndquoc/course-checkout/internal/port"
)

const (
	couponMaxUses = 20
	totalSessions = 50
	coursePrice   = 1000
)

func mysqlDSN() string {
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		return v
	}
	return "root:root@tcp(localhost:3306)/checkout?parseTime=true"
}

// Drives concurrent settlements that all share one limited coupon and
// verifies the conditional increment admits exactly couponMaxUses of them.
func main() {
	ctx := context.Background()

	db, err := sql.Open("mysql", mysqlDSN())
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(100)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	couponCode := "STRESS-" + uuid.NewString()[:8]
	courseID := "stress-course-" + uuid.NewString()[:8]

	if _, err := db.ExecContext(ctx,
		`INSERT INTO courses (id, title, price, status, approval) VALUES (?, ?, ?, 'Ongoing', 'APPROVED')`,
		courseID, "Stress Course", coursePrice); err != nil {
		log.Fatalf("failed to seed course: %v", err)
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO coupons (code, discount_type, discount_value, active, max_uses, used_count) VALUES (?, 'PERCENTAGE', 10, 1, ?, 0)`,
		couponCode, couponMaxUses)
	if err != nil {
		log.Fatalf("failed to seed coupon: %v", err)
	}
	couponID, _ := res.LastInsertId()

	// One PENDING session per simulated user, all holding the same coupon.
	sessionIDs := make([]string, 0, totalSessions)
	for i := 0; i < totalSessions; i++ {
		userID := fmt.Sprintf("stress-user-%d", i)
		if _, err := db.ExecContext(ctx,
			`INSERT INTO users (id, email, name) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE name = VALUES(name)`,
			userID, userID+"@example.com", userID); err != nil {
			log.Fatalf("failed to seed user: %v", err)
		}
		sess := &domain.CheckoutSession{
			ID:         uuid.NewString(),
			UserID:     userID,
			CourseIDs:  []string{courseID},
			Subtotal:   coursePrice,
			Discount:   coursePrice / 10,
			Total:      coursePrice - coursePrice/10,
			CouponID:   &couponID,
			CouponCode: couponCode,
			Status:     domain.SessionPending,
			CreatedAt:  time.Now(),
		}
		if err := adapter.CreateSession(ctx, sess); err != nil {
			log.Fatalf("failed to create session: %v", err)
		}
		sessionIDs = append(sessionIDs, sess.ID)
	}

	var settled, exhausted, other atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range sessionIDs {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			_, err := adapter.Settle(ctx, port.SettleOrder{
				SessionID:     sessionID,
				Gateway:       "stress",
				TransactionID: "stress-" + uuid.NewString(),
			})
			switch {
			case err == nil:
				settled.Add(1)
			case errors.Is(err, domain.ErrCouponExhausted):
				exhausted.Add(1)
			default:
				other.Add(1)
				log.Printf("unexpected error for %s: %v", sessionID, err)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	var usedCount int64
	if err := db.QueryRowContext(ctx,
		`SELECT used_count FROM coupons WHERE id = ?`, couponID).Scan(&usedCount); err != nil {
		log.Fatalf("failed to read coupon: %v", err)
	}

	fmt.Println("========== COUPON CONTENTION RESULTS ==========")
	fmt.Printf("Coupon Max Uses:  %d\n", couponMaxUses)
	fmt.Printf("Total Sessions:   %d\n", totalSessions)
	fmt.Printf("Settled:          %d\n", settled.Load())
	fmt.Printf("Exhausted:        %d\n", exhausted.Load())
	fmt.Printf("Other Errors:     %d\n", other.Load())
	fmt.Printf("Final used_count: %d\n", usedCount)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("===============================================")

	if settled.Load() == couponMaxUses && exhausted.Load() == totalSessions-couponMaxUses && usedCount == couponMaxUses {
		fmt.Println("PASS: coupon admitted exactly max_uses settlements")
	} else {
		fmt.Printf("FAIL: expected %d settled / %d exhausted / used_count=%d\n",
			couponMaxUses, totalSessions-couponMaxUses, couponMaxUses)
	}
}
