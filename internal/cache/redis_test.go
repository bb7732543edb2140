package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClient_GetSet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("missing key should not exist")
	}

	if err := c.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get = (%q, %v, %v), want (v, true, nil)", v, ok, err)
	}

	exists, err := c.Exists(ctx, "k")
	if err != nil || !exists {
		t.Fatalf("Exists = (%v, %v), want (true, nil)", exists, err)
	}
}

func TestClient_SetWithTTLExpires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if err := c.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("key should have expired")
	}
}

func TestClient_GetInt64(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	n, err := c.GetInt64(ctx, "counter")
	if err != nil || n != 0 {
		t.Fatalf("GetInt64 on missing key = (%d, %v), want (0, nil)", n, err)
	}

	if _, err := c.Increment(ctx, "counter", time.Hour); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	n, err = c.GetInt64(ctx, "counter")
	if err != nil || n != 1 {
		t.Fatalf("GetInt64 = (%d, %v), want (1, nil)", n, err)
	}
}

func TestClient_IncrementSlidesTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Increment(ctx, "counter", time.Hour); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	mr.FastForward(45 * time.Minute)

	n, err := c.Increment(ctx, "counter", time.Hour)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if n != 2 {
		t.Fatalf("Increment = %d, want 2", n)
	}

	// The second increment refreshed the TTL, so 45 more minutes must not
	// expire the key.
	mr.FastForward(45 * time.Minute)
	n, err = c.GetInt64(ctx, "counter")
	if err != nil || n != 2 {
		t.Fatalf("GetInt64 after slide = (%d, %v), want (2, nil)", n, err)
	}

	mr.FastForward(time.Hour)
	n, _ = c.GetInt64(ctx, "counter")
	if n != 0 {
		t.Errorf("counter should decay to 0 after TTL, got %d", n)
	}
}

func TestClient_Delete(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if err := c.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if err := c.Delete(ctx, "k", "never-existed"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := c.Exists(ctx, "k"); exists {
		t.Error("key should be gone")
	}
	if err := c.Delete(ctx); err != nil {
		t.Errorf("Delete with no keys: %v", err)
	}
}

func TestClient_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb)
	mr.Close()

	ctx := context.Background()
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get against a dead backend: want ErrUnavailable, got %v", err)
	}
	if _, err := c.Increment(ctx, "k", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Increment against a dead backend: want ErrUnavailable, got %v", err)
	}
}
