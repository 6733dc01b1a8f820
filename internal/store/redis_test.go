package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLedger(t *testing.T) (*KeyLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewKeyLedger(client, "test:", time.Hour), mr
}

func TestKeyLedgerReusesKeyUntilForgotten(t *testing.T) {
	ledger, mr := newLedger(t)
	ctx := context.Background()

	first, err := ledger.Reserve(ctx, "7|3|12|April 20, 2025|10:00 AM")
	if err != nil {
		t.Fatal(err)
	}
	again, err := ledger.Reserve(ctx, "7|3|12|April 20, 2025|10:00 AM")
	if err != nil {
		t.Fatal(err)
	}
	if first == "" || first != again {
		t.Fatalf("keys differ: %q vs %q", first, again)
	}
	if ttl := mr.TTL("test:7|3|12|April 20, 2025|10:00 AM"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	other, err := ledger.Reserve(ctx, "7|3|12|April 21, 2025|10:00 AM")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Fatal("distinct fingerprints shared a key")
	}

	if err := ledger.Forget(ctx, "7|3|12|April 20, 2025|10:00 AM"); err != nil {
		t.Fatal(err)
	}
	fresh, err := ledger.Reserve(ctx, "7|3|12|April 20, 2025|10:00 AM")
	if err != nil {
		t.Fatal(err)
	}
	if fresh == first {
		t.Fatal("forgotten key was reused")
	}
}

func TestKeyLedgerExpiry(t *testing.T) {
	ledger, mr := newLedger(t)
	ctx := context.Background()
	first, _ := ledger.Reserve(ctx, "fp")
	mr.FastForward(2 * time.Hour)
	next, err := ledger.Reserve(ctx, "fp")
	if err != nil {
		t.Fatal(err)
	}
	if next == first {
		t.Fatal("expired key was reused")
	}
}

func TestKeyLedgerUnavailable(t *testing.T) {
	ledger, mr := newLedger(t)
	mr.Close()
	if _, err := ledger.Reserve(context.Background(), "fp"); err == nil {
		t.Fatal("expected error from a stopped server")
	}
}

func TestRedisHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr())
	defer r.Close()
	if !r.Healthy(context.Background()) {
		t.Fatal("expected healthy")
	}
	var nilRedis *Redis
	if nilRedis.Healthy(context.Background()) {
		t.Fatal("nil client reported healthy")
	}
}
