package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

func setupTestLimiter(t *testing.T, limits map[db.DeliveryMethod]ChannelLimit) (*ChannelLimiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	limiter := NewChannelLimiter(client, zap.NewNop(), limits)

	return limiter, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestChannelLimiter_AdmitsWithinLimit(t *testing.T) {
	limiter, _, cleanup := setupTestLimiter(t, map[db.DeliveryMethod]ChannelLimit{
		db.MethodSMS: {Limit: 10, Window: time.Minute},
	})
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		ok, err := limiter.Allow(ctx, db.MethodSMS)
		if err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("send %d should be admitted", i)
		}
	}
}

func TestChannelLimiter_RejectsOverLimit(t *testing.T) {
	limiter, _, cleanup := setupTestLimiter(t, map[db.DeliveryMethod]ChannelLimit{
		db.MethodWhatsApp: {Limit: 5, Window: time.Minute},
	})
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if ok, _ := limiter.Allow(ctx, db.MethodWhatsApp); !ok {
			t.Fatalf("send %d should be admitted", i)
		}
	}

	ok, err := limiter.Allow(ctx, db.MethodWhatsApp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("the (limit+1)-th send within the window should be rejected")
	}
}

func TestChannelLimiter_AdmitsAfterWindowElapses(t *testing.T) {
	limiter, mr, cleanup := setupTestLimiter(t, map[db.DeliveryMethod]ChannelLimit{
		db.MethodSMS: {Limit: 2, Window: 100 * time.Millisecond},
	})
	defer cleanup()

	ctx := context.Background()
	limiter.Allow(ctx, db.MethodSMS)
	limiter.Allow(ctx, db.MethodSMS)
	if ok, _ := limiter.Allow(ctx, db.MethodSMS); ok {
		t.Fatal("should reject while the window is full")
	}

	// miniredis time is frozen; advance its clock and wait out the
	// real-time window used for member scores.
	mr.FastForward(time.Second)
	time.Sleep(110 * time.Millisecond)

	ok, err := limiter.Allow(ctx, db.MethodSMS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("a send after the window has elapsed should be admitted")
	}
}

func TestChannelLimiter_ChannelsAreIndependent(t *testing.T) {
	limiter, _, cleanup := setupTestLimiter(t, map[db.DeliveryMethod]ChannelLimit{
		db.MethodSMS:   {Limit: 1, Window: time.Minute},
		db.MethodEmail: {Limit: 1, Window: time.Minute},
	})
	defer cleanup()

	ctx := context.Background()
	limiter.Allow(ctx, db.MethodSMS)
	if ok, _ := limiter.Allow(ctx, db.MethodSMS); ok {
		t.Fatal("sms budget should be spent")
	}
	if ok, _ := limiter.Allow(ctx, db.MethodEmail); !ok {
		t.Fatal("email budget should be untouched")
	}
}

func TestChannelLimiter_RejectionConsumesNothing(t *testing.T) {
	limiter, _, cleanup := setupTestLimiter(t, map[db.DeliveryMethod]ChannelLimit{
		db.MethodSMS: {Limit: 3, Window: time.Minute},
	})
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, db.MethodSMS)
	}
	for i := 0; i < 5; i++ {
		limiter.Allow(ctx, db.MethodSMS)
	}

	n, err := limiter.InWindow(ctx, db.MethodSMS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("window holds %d entries, want 3 (rejections must not record)", n)
	}
}

func TestChannelLimiter_UnconfiguredChannelUnlimited(t *testing.T) {
	limiter, _, cleanup := setupTestLimiter(t, map[db.DeliveryMethod]ChannelLimit{
		db.MethodSMS: {Limit: 1, Window: time.Minute},
	})
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		ok, err := limiter.Allow(ctx, db.MethodPush)
		if err != nil || !ok {
			t.Fatalf("unconfigured channel should always admit (i=%d, ok=%v, err=%v)", i, ok, err)
		}
	}
}

func TestChannelLimiter_Cleanup(t *testing.T) {
	limiter, _, cleanup := setupTestLimiter(t, map[db.DeliveryMethod]ChannelLimit{
		db.MethodEmail: {Limit: 100, Window: 50 * time.Millisecond},
	})
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		limiter.Allow(ctx, db.MethodEmail)
	}

	time.Sleep(60 * time.Millisecond)
	if err := limiter.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	n, _ := limiter.InWindow(ctx, db.MethodEmail)
	if n != 0 {
		t.Fatalf("window holds %d stale entries after cleanup", n)
	}
}

func TestDefaultChannelLimits(t *testing.T) {
	limits := DefaultChannelLimits()
	tests := []struct {
		method db.DeliveryMethod
		limit  int
	}{
		{db.MethodSMS, 10},
		{db.MethodEmail, 100},
		{db.MethodPush, 500},
		{db.MethodWhatsApp, 5},
	}
	for _, tt := range tests {
		got, ok := limits[tt.method]
		if !ok {
			t.Fatalf("no default limit for %s", tt.method)
		}
		if got.Limit != tt.limit || got.Window != time.Minute {
			t.Errorf("%s = %d/%v, want %d/60s", tt.method, got.Limit, got.Window, tt.limit)
		}
	}
}
