package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"security-service/internal/models"
	"security-service/internal/repository/redis"
	"security-service/internal/repository/scylla"
)

// In-memory doubles for the store contracts. They reproduce the
// concurrency semantics the real repositories guarantee (capped attempt
// counters, single-use verified flags) so the service tests exercise the
// same races the production path sees.

type fakeOTPStore struct {
	mu   sync.Mutex
	rows map[string]*models.OTPCode
	fail bool
}

func newFakeOTPStore() *fakeOTPStore {
	return &fakeOTPStore{rows: make(map[string]*models.OTPCode)}
}

func otpKey(bucket int, hash string, purpose models.Purpose) string {
	return string(purpose) + "/" + hash
}

func (f *fakeOTPStore) Create(_ context.Context, otp *models.OTPCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("scylla down")
	}
	if otp.OTPID == "" {
		otp.OTPID = uuid.New().String()
	}
	clone := *otp
	f.rows[otpKey(otp.EmailBucket, otp.EmailHash, otp.Purpose)] = &clone
	return nil
}

func (f *fakeOTPStore) GetActive(_ context.Context, bucket int, hash string, purpose models.Purpose, now time.Time) (*models.OTPCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("scylla down")
	}
	row, ok := f.rows[otpKey(bucket, hash, purpose)]
	if !ok || !row.Live(now) {
		return nil, scylla.ErrOTPNotFound
	}
	clone := *row
	return &clone, nil
}

func (f *fakeOTPStore) InvalidateActive(_ context.Context, bucket int, hash string, purpose models.Purpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("scylla down")
	}
	delete(f.rows, otpKey(bucket, hash, purpose))
	return nil
}

func (f *fakeOTPStore) IncrementAttempts(_ context.Context, otp *models.OTPCode) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return otp.Attempts, errors.New("scylla down")
	}
	row, ok := f.rows[otpKey(otp.EmailBucket, otp.EmailHash, otp.Purpose)]
	if !ok || row.OTPID != otp.OTPID {
		return otp.Attempts, scylla.ErrOTPNotFound
	}
	if row.Verified || row.Attempts >= row.MaxAttempts {
		return row.Attempts, scylla.ErrOTPConsumed
	}
	row.Attempts++
	otp.Attempts = row.Attempts
	return row.Attempts, nil
}

func (f *fakeOTPStore) MarkVerified(_ context.Context, otp *models.OTPCode, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("scylla down")
	}
	row, ok := f.rows[otpKey(otp.EmailBucket, otp.EmailHash, otp.Purpose)]
	if !ok || row.OTPID != otp.OTPID {
		return scylla.ErrOTPNotFound
	}
	if row.Verified {
		return scylla.ErrOTPConsumed
	}
	row.Verified = true
	row.VerifiedAt = &now
	otp.Verified = true
	return nil
}

func (f *fakeOTPStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for k, row := range f.rows {
		if row.ExpiresAt.Before(now) {
			delete(f.rows, k)
			deleted++
		}
	}
	return deleted, nil
}

// expire rewrites the stored expiry so tests can age a code without
// sleeping.
func (f *fakeOTPStore) expire(bucket int, hash string, purpose models.Purpose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[otpKey(bucket, hash, purpose)]; ok {
		row.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	}
}

func (f *fakeOTPStore) storedAttempts(bucket int, hash string, purpose models.Purpose) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[otpKey(bucket, hash, purpose)]; ok {
		return row.Attempts
	}
	return -1
}

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]*models.Account)}
}

func (f *fakeAccountStore) add(account *models.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[account.EmailHash] = account
}

func (f *fakeAccountStore) FindByEmail(_ context.Context, _ int, emailHash string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[emailHash]
	if !ok {
		return nil, scylla.ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

type fakeBlockStore struct {
	mu     sync.Mutex
	blocks map[string]*models.BlockedAddress
	fail   bool
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{blocks: make(map[string]*models.BlockedAddress)}
}

func (f *fakeBlockStore) Upsert(_ context.Context, block *models.BlockedAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("redis down")
	}
	clone := *block
	f.blocks[block.SourceAddress] = &clone
	return nil
}

func (f *fakeBlockStore) GetByAddress(_ context.Context, addr string) (*models.BlockedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("redis down")
	}
	block, ok := f.blocks[addr]
	if !ok {
		return nil, redis.ErrBlockNotFound
	}
	clone := *block
	return &clone, nil
}

func (f *fakeBlockStore) GetByID(_ context.Context, blockID string) (*models.BlockedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("redis down")
	}
	for _, block := range f.blocks {
		if block.BlockID == blockID {
			clone := *block
			return &clone, nil
		}
	}
	return nil, redis.ErrBlockNotFound
}

func (f *fakeBlockStore) Delete(_ context.Context, block *models.BlockedAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("redis down")
	}
	delete(f.blocks, block.SourceAddress)
	return nil
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts []*models.LoginAttempt
	fail     bool
}

func (f *fakeAttemptStore) Insert(_ context.Context, attempt *models.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("clickhouse down")
	}
	clone := *attempt
	f.attempts = append(f.attempts, &clone)
	return nil
}

func (f *fakeAttemptStore) CountRecentFailures(_ context.Context, _ int, addr string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("clickhouse down")
	}
	count := 0
	for _, a := range f.attempts {
		if a.SourceAddress == addr && !a.Success && !a.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeAttemptStore) RecentByAddress(_ context.Context, _ int, addr string, limit int) ([]*models.LoginAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("clickhouse down")
	}
	out := make([]*models.LoginAttempt, 0, limit)
	for i := len(f.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if f.attempts[i].SourceAddress == addr {
			clone := *f.attempts[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

type fakeSettingsStore struct {
	mu       sync.Mutex
	settings models.SecuritySettings
	fail     bool
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{settings: models.DefaultSecuritySettings()}
}

func (f *fakeSettingsStore) Get(_ context.Context) (models.SecuritySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return models.SecuritySettings{}, errors.New("redis down")
	}
	return f.settings, nil
}

func (f *fakeSettingsStore) Save(_ context.Context, settings models.SecuritySettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("redis down")
	}
	f.settings = settings
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (r *recordingSink) Enqueue(entry *models.AuditLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeMailer struct {
	mu    sync.Mutex
	sent  []sentMail
	fail  bool
	codes []string
}

type sentMail struct {
	email   string
	purpose models.Purpose
	code    string
}

func (f *fakeMailer) SendOTP(_ context.Context, email string, purpose models.Purpose, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("smtp down")
	}
	f.sent = append(f.sent, sentMail{email: email, purpose: purpose, code: code})
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeMailer) lastCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.codes) == 0 {
		return ""
	}
	return f.codes[len(f.codes)-1]
}

func (f *fakeMailer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
