package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"security-service/internal/models"
)

func newTestCache(t *testing.T) (*BlockCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBlockCache(client), mr
}

func tempBlock(id, addr string, d time.Duration) *models.BlockedAddress {
	until := time.Now().UTC().Add(d)
	return &models.BlockedAddress{
		BlockID:       id,
		SourceAddress: addr,
		Reason:        "too many failed login attempts",
		FailureCount:  5,
		BlockedUntil:  &until,
		BlockedBy:     "system",
		BlockedAt:     time.Now().UTC(),
	}
}

func TestUpsertAndGetByAddress(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	block := tempBlock("b-1", "203.0.113.7", 15*time.Minute)
	if err := cache.Upsert(ctx, block); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	got, err := cache.GetByAddress(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if got.BlockID != "b-1" || got.FailureCount != 5 {
		t.Errorf("GetByAddress() = %+v", got)
	}
	if !got.Active(time.Now()) {
		t.Error("freshly stored block is not active")
	}
}

func TestGetByID(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	block := tempBlock("b-2", "198.51.100.9", 10*time.Minute)
	if err := cache.Upsert(ctx, block); err != nil {
		t.Fatal(err)
	}

	got, err := cache.GetByID(ctx, "b-2")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.SourceAddress != "198.51.100.9" {
		t.Errorf("GetByID() address = %q", got.SourceAddress)
	}

	if _, err := cache.GetByID(ctx, "no-such-id"); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("GetByID(unknown) error = %v, want ErrBlockNotFound", err)
	}
}

func TestUpsertOverwritesSameAddress(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Upsert(ctx, tempBlock("b-old", "203.0.113.7", 5*time.Minute)); err != nil {
		t.Fatal(err)
	}
	replacement := tempBlock("b-new", "203.0.113.7", 30*time.Minute)
	replacement.Reason = "manual block"
	if err := cache.Upsert(ctx, replacement); err != nil {
		t.Fatal(err)
	}

	got, err := cache.GetByAddress(ctx, "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}
	if got.BlockID != "b-new" || got.Reason != "manual block" {
		t.Errorf("overwrite not applied: %+v", got)
	}

	// The superseded id index must be gone.
	if _, err := cache.GetByID(ctx, "b-old"); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("stale id index survived overwrite: err = %v", err)
	}
}

func TestTemporaryBlockExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	if err := cache.Upsert(ctx, tempBlock("b-3", "192.0.2.1", time.Minute)); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := cache.GetByAddress(ctx, "192.0.2.1"); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("expired block still readable: err = %v", err)
	}
	if _, err := cache.GetByID(ctx, "b-3"); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("expired block id index still readable: err = %v", err)
	}
}

func TestPermanentBlockHasNoTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	block := &models.BlockedAddress{
		BlockID:       "b-4",
		SourceAddress: "192.0.2.200",
		Reason:        "abuse",
		IsPermanent:   true,
		BlockedBy:     "admin",
		BlockedAt:     time.Now().UTC(),
	}
	if err := cache.Upsert(ctx, block); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(24 * time.Hour)

	got, err := cache.GetByAddress(ctx, "192.0.2.200")
	if err != nil {
		t.Fatalf("permanent block gone after fast forward: %v", err)
	}
	if !got.Active(time.Now().Add(365 * 24 * time.Hour)) {
		t.Error("permanent block reported inactive")
	}
}

func TestUpsertRejectsExpiredTemporary(t *testing.T) {
	cache, _ := newTestCache(t)

	if err := cache.Upsert(context.Background(), tempBlock("b-5", "192.0.2.5", -time.Minute)); err == nil {
		t.Error("Upsert() accepted a block that already expired")
	}
}

func TestDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	block := tempBlock("b-6", "192.0.2.6", 10*time.Minute)
	if err := cache.Upsert(ctx, block); err != nil {
		t.Fatal(err)
	}
	if err := cache.Delete(ctx, block); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if _, err := cache.GetByAddress(ctx, "192.0.2.6"); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("record readable after delete: err = %v", err)
	}
	if _, err := cache.GetByID(ctx, "b-6"); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("id index readable after delete: err = %v", err)
	}
}
