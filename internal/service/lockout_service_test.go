package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"security-service/internal/bucketing"
	"security-service/internal/models"
)

type lockoutFixture struct {
	svc      *LockoutService
	blocks   *fakeBlockStore
	attempts *fakeAttemptStore
	settings *fakeSettingsStore
	sink     *recordingSink
}

func newLockoutFixture(t *testing.T) *lockoutFixture {
	t.Helper()
	f := &lockoutFixture{
		blocks:   newFakeBlockStore(),
		attempts: &fakeAttemptStore{},
		settings: newFakeSettingsStore(),
		sink:     &recordingSink{},
	}
	f.svc = NewLockoutService(
		f.blocks, f.attempts, f.settings, f.sink,
		bucketing.NewBucketingManager(testCryptoConfig()),
	)
	return f
}

func (f *lockoutFixture) recordFailures(ctx context.Context, addr string, n int) {
	for i := 0; i < n; i++ {
		f.svc.RecordLoginAttempt(ctx, &models.LoginAttempt{
			Email:         "victim@x.com",
			SourceAddress: addr,
			Success:       false,
			FailureReason: "bad password",
		})
	}
}

func TestThresholdTripsBlock(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	f.recordFailures(ctx, "203.0.113.7", 5)

	if !f.svc.IsBlocked(ctx, "203.0.113.7") {
		t.Error("address not blocked after reaching the threshold")
	}

	block, err := f.svc.GetBlock(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("GetBlock() error: %v", err)
	}
	if block.FailureCount != 5 || block.BlockedBy != "system" {
		t.Errorf("block = %+v", block)
	}
	if block.BlockedUntil == nil || !block.BlockedUntil.After(time.Now()) {
		t.Error("blocked_until not set in the future")
	}

	actions := f.sink.actions()
	if len(actions) == 0 || actions[0] != models.AuditActionBlockIP {
		t.Errorf("audit actions = %v, want block_ip", actions)
	}
}

func TestBelowThresholdNoBlock(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	f.recordFailures(ctx, "203.0.113.7", 4)

	if f.svc.IsBlocked(ctx, "203.0.113.7") {
		t.Error("address blocked below the threshold")
	}
}

func TestSuccessfulAttemptsDoNotBlock(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		f.svc.RecordLoginAttempt(ctx, &models.LoginAttempt{
			SourceAddress: "203.0.113.7",
			Success:       true,
		})
	}

	if f.svc.IsBlocked(ctx, "203.0.113.7") {
		t.Error("address blocked by successful attempts")
	}
}

func TestContinuedFailuresExtendBlock(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	f.recordFailures(ctx, "203.0.113.7", 5)
	first, err := f.svc.GetBlock(ctx, "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	f.recordFailures(ctx, "203.0.113.7", 1)

	second, err := f.svc.GetBlock(ctx, "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}
	if second.BlockID != first.BlockID {
		t.Error("re-block created a new record instead of extending the existing one")
	}
	if !second.BlockedUntil.After(*first.BlockedUntil) {
		t.Error("blocked_until not extended by continued failures")
	}
}

func TestCustomThresholdFromSettings(t *testing.T) {
	f := newLockoutFixture(t)
	f.settings.settings.MaxLoginAttempts = 3
	ctx := context.Background()

	f.recordFailures(ctx, "198.51.100.9", 2)
	if f.svc.IsBlocked(ctx, "198.51.100.9") {
		t.Fatal("blocked before custom threshold")
	}

	f.recordFailures(ctx, "198.51.100.9", 1)
	if !f.svc.IsBlocked(ctx, "198.51.100.9") {
		t.Error("not blocked at custom threshold of 3")
	}
}

func TestIsBlockedFailsClosed(t *testing.T) {
	f := newLockoutFixture(t)
	f.blocks.fail = true

	if !f.svc.IsBlocked(context.Background(), "203.0.113.7") {
		t.Error("gate open while the block store is unreachable")
	}
}

func TestExpiredBlockIsInactive(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	f.blocks.blocks["203.0.113.7"] = &models.BlockedAddress{
		BlockID:       "b-old",
		SourceAddress: "203.0.113.7",
		BlockedUntil:  &past,
	}

	if f.svc.IsBlocked(ctx, "203.0.113.7") {
		t.Error("expired block still gates requests")
	}
	if _, err := f.svc.GetBlock(ctx, "203.0.113.7"); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("GetBlock() error = %v, want ErrBlockNotFound", err)
	}
}

func TestManualBlockAndUnblock(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	block, err := f.svc.Block(ctx, "192.0.2.50", "abuse report", "admin@x.com", true, 0)
	if err != nil {
		t.Fatalf("Block() error: %v", err)
	}
	if !f.svc.IsBlocked(ctx, "192.0.2.50") {
		t.Error("manually blocked address not gated")
	}

	if err := f.svc.Unblock(ctx, block.BlockID, "admin@x.com"); err != nil {
		t.Fatalf("Unblock() error: %v", err)
	}
	if f.svc.IsBlocked(ctx, "192.0.2.50") {
		t.Error("address still gated after unblock")
	}

	actions := f.sink.actions()
	if len(actions) != 2 || actions[0] != models.AuditActionBlockIP || actions[1] != models.AuditActionUnblockIP {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestUnblockUnknownID(t *testing.T) {
	f := newLockoutFixture(t)

	if err := f.svc.Unblock(context.Background(), "no-such-block", "admin"); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("Unblock() error = %v, want ErrBlockNotFound", err)
	}
}

func TestManualBlockValidation(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Block(ctx, "", "reason", "admin", true, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Block(empty addr) error = %v, want ErrInvalidInput", err)
	}
	if _, err := f.svc.Block(ctx, "192.0.2.1", "reason", "admin", false, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Block(temporary, no duration) error = %v, want ErrInvalidInput", err)
	}
}

func TestRecordAttemptSurvivesStoreFailure(t *testing.T) {
	f := newLockoutFixture(t)
	f.attempts.fail = true

	// Must not panic, must not block, must not create a block record.
	f.svc.RecordLoginAttempt(context.Background(), &models.LoginAttempt{
		SourceAddress: "203.0.113.7",
		Success:       false,
	})

	if len(f.blocks.blocks) != 0 {
		t.Error("block created while the attempt store was down")
	}
}

func TestAddressNormalization(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	// host:port and bare IP must count against the same key.
	for i := 0; i < 3; i++ {
		f.svc.RecordLoginAttempt(ctx, &models.LoginAttempt{
			SourceAddress: "203.0.113.7:51234",
			Success:       false,
		})
	}
	for i := 0; i < 2; i++ {
		f.svc.RecordLoginAttempt(ctx, &models.LoginAttempt{
			SourceAddress: "203.0.113.7",
			Success:       false,
		})
	}

	if !f.svc.IsBlocked(ctx, "203.0.113.7") {
		t.Error("mixed-form addresses did not aggregate into one lockout key")
	}
}

func TestRecentAttemptsNewestFirst(t *testing.T) {
	f := newLockoutFixture(t)
	ctx := context.Background()

	f.svc.RecordLoginAttempt(ctx, &models.LoginAttempt{
		SourceAddress: "203.0.113.7",
		Success:       true,
	})
	f.svc.RecordLoginAttempt(ctx, &models.LoginAttempt{
		SourceAddress: "203.0.113.7",
		Success:       false,
		FailureReason: "bad password",
	})
	f.svc.RecordLoginAttempt(ctx, &models.LoginAttempt{
		SourceAddress: "198.51.100.1",
		Success:       false,
	})

	attempts, err := f.svc.RecentAttempts(ctx, "203.0.113.7:40000", 10)
	if err != nil {
		t.Fatalf("RecentAttempts() error: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("len(attempts) = %d, want 2", len(attempts))
	}
	if attempts[0].FailureReason != "bad password" {
		t.Errorf("newest attempt not first: %+v", attempts[0])
	}

	if _, err := f.svc.RecentAttempts(ctx, "", 10); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty address error = %v, want ErrInvalidInput", err)
	}
}
