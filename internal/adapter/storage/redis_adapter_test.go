package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ndquoc/course-checkout/internal/core/domain"
)

func getRedisAdapter(t *testing.T) (*RedisAdapter, *redis.Client) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return NewRedisAdapter(client, time.Minute), client
}

func TestCourseCache_RoundTrip(t *testing.T) {
	adapter, client := getRedisAdapter(t)
	defer client.Close()

	ctx := context.Background()
	id1 := "cache-course-" + uuid.NewString()[:8]
	id2 := "cache-course-" + uuid.NewString()[:8]

	courses := []domain.Course{
		{ID: id1, Title: "Course One", Price: 500, Status: domain.CourseStatusOngoing, Approval: domain.CourseApproved},
		{ID: id2, Title: "Course Two", Price: 700, Status: domain.CourseStatusOngoing, Approval: domain.CourseApproved},
	}
	if err := adapter.SetCourses(ctx, courses); err != nil {
		t.Fatalf("SetCourses: %v", err)
	}

	got, ok, err := adapter.GetCourses(ctx, []string{id1, id2})
	if err != nil {
		t.Fatalf("GetCourses: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 2 || got[0].Price != 500 || got[1].Price != 700 {
		t.Errorf("unexpected courses: %+v", got)
	}
}

func TestCourseCache_MissOnAnyAbsentID(t *testing.T) {
	adapter, client := getRedisAdapter(t)
	defer client.Close()

	ctx := context.Background()
	id := "cache-course-" + uuid.NewString()[:8]
	if err := adapter.SetCourses(ctx, []domain.Course{
		{ID: id, Title: "Cached", Price: 500, Status: domain.CourseStatusOngoing, Approval: domain.CourseApproved},
	}); err != nil {
		t.Fatalf("SetCourses: %v", err)
	}

	_, ok, err := adapter.GetCourses(ctx, []string{id, "never-cached-" + uuid.NewString()[:8]})
	if err != nil {
		t.Fatalf("GetCourses: %v", err)
	}
	if ok {
		t.Error("a partially cached set must be a miss")
	}
}

func TestTransactionDedupe(t *testing.T) {
	adapter, client := getRedisAdapter(t)
	defer client.Close()

	ctx := context.Background()
	txnID := "txn-" + uuid.NewString()

	seen, err := adapter.TransactionSeen(ctx, txnID)
	if err != nil {
		t.Fatalf("TransactionSeen: %v", err)
	}
	if seen {
		t.Fatal("fresh transaction reported as seen")
	}

	first, err := adapter.MarkTransactionSeen(ctx, txnID)
	if err != nil {
		t.Fatalf("MarkTransactionSeen: %v", err)
	}
	if !first {
		t.Error("first mark must win")
	}

	second, err := adapter.MarkTransactionSeen(ctx, txnID)
	if err != nil {
		t.Fatalf("MarkTransactionSeen: %v", err)
	}
	if second {
		t.Error("second mark must report already recorded")
	}

	seen, err = adapter.TransactionSeen(ctx, txnID)
	if err != nil {
		t.Fatalf("TransactionSeen: %v", err)
	}
	if !seen {
		t.Error("marked transaction must be seen")
	}
}
