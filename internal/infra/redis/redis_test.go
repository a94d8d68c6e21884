//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewClientFromOptions(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestHandoffRepo(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	repo := NewHandoffRepo(c, time.Minute)

	h, err := model.NewPaymentHandoff("h-1", "pay-1", "/orders/1", model.SubjectOrder, "user-1")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}

	t.Run("should consume exactly once", func(t *testing.T) {
		if err := repo.Save(ctx, h); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		got, err := repo.Consume(ctx, "h-1")
		if err != nil {
			t.Fatalf("consume failed: %v", err)
		}
		if got.PendingPaymentID != "pay-1" || got.PaymentType != model.SubjectOrder || got.ReturnURL != "/orders/1" {
			t.Errorf("unexpected handoff %+v", got)
		}
		if _, err := repo.Consume(ctx, "h-1"); !errors.Is(err, domain.ErrHandoffNotFound) {
			t.Errorf("expected ErrHandoffNotFound on second consume, got %v", err)
		}
	})

	t.Run("should expire after the ttl", func(t *testing.T) {
		if err := repo.Save(ctx, h); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		mr.FastForward(2 * time.Minute)
		if _, err := repo.Consume(ctx, "h-1"); !errors.Is(err, domain.ErrHandoffNotFound) {
			t.Errorf("expected expired handoff, got %v", err)
		}
	})

	t.Run("should reject a handoff without id", func(t *testing.T) {
		if err := repo.Save(ctx, &model.PaymentHandoff{}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	rl := NewRateLimiter(c)
	key := UserRouteKey("user-1", "await")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d should pass, got ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Error("fourth request should be limited")
	}
	mr.FastForward(time.Minute + time.Second)
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); !ok {
		t.Error("a new window should allow again")
	}
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	l := NewLocker(c)

	token, err := l.TryLock(ctx, "sweeper", time.Minute)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if _, err := l.TryLock(ctx, "sweeper", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
	if err := l.Unlock(ctx, "sweeper", "someone-else"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, err := l.TryLock(ctx, "sweeper", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Error("a foreign token must not release the lock")
	}
	if err := l.Unlock(ctx, "sweeper", token); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, err := l.TryLock(ctx, "sweeper", time.Minute); err != nil {
		t.Errorf("expected the lock to be free, got %v", err)
	}
}
