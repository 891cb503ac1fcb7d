package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiterWindow(t *testing.T) {
	s := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lim := NewRedisLimiter(client, 2, 500*time.Millisecond, "test:")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := lim.Allow(ctx, "u1:sms", time.Now())
		if err != nil || !allowed {
			t.Fatalf("expected allow on call %d, err=%v", i+1, err)
		}
	}

	allowed, retryAfter, err := lim.Allow(ctx, "u1:sms", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed || retryAfter <= 0 {
		t.Fatalf("expected rate limited with retryAfter > 0, got %v %s", allowed, retryAfter)
	}
	if !s.Exists("test:u1:sms") {
		t.Fatalf("expected prefixed key in redis")
	}

	s.FastForward(600 * time.Millisecond)
	allowed, _, err = lim.Allow(ctx, "u1:sms", time.Now())
	if err != nil || !allowed {
		t.Fatalf("expected allow after window")
	}
}

func TestRedisLimiterReportsUnavailable(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	lim := NewRedisLimiter(client, 1, time.Second, "")
	if _, _, err := lim.Allow(context.Background(), "k", time.Now()); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
