package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ndquoc/course-checkout/internal/core/domain"
)

const (
	courseKeyPrefix = "course:"
	txnKeyPrefix    = "settled-txn:"
	txnKeyTTL       = 24 * time.Hour
)

type RedisAdapter struct {
	client    *redis.Client
	courseTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, courseTTL time.Duration) *RedisAdapter {
	if courseTTL <= 0 {
		courseTTL = 5 * time.Minute
	}
	return &RedisAdapter{client: client, courseTTL: courseTTL}
}

// GetCourses serves course records from cache. A single missing id makes the
// whole lookup a miss so callers always see a consistent set.
func (r *RedisAdapter) GetCourses(ctx context.Context, ids []string) ([]domain.Course, bool, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = courseKeyPrefix + id
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, false, err
	}

	courses := make([]domain.Course, 0, len(ids))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			return nil, false, nil
		}
		var c domain.Course
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, false, nil
		}
		courses = append(courses, c)
	}
	return courses, true, nil
}

func (r *RedisAdapter) SetCourses(ctx context.Context, courses []domain.Course) error {
	pipe := r.client.Pipeline()
	for i := range courses {
		b, err := json.Marshal(courses[i])
		if err != nil {
			return err
		}
		pipe.Set(ctx, courseKeyPrefix+courses[i].ID, b, r.courseTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) TransactionSeen(ctx context.Context, txnID string) (bool, error) {
	n, err := r.client.Exists(ctx, txnKeyPrefix+txnID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisAdapter) MarkTransactionSeen(ctx context.Context, txnID string) (bool, error) {
	return r.client.SetNX(ctx, txnKeyPrefix+txnID, 1, txnKeyTTL).Result()
}
