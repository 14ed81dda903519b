package service

import (
	"go.uber.org/zap"

	"security-service/internal/bucketing"
	"security-service/internal/encryption"
	"security-service/internal/hashing"
	"security-service/internal/mailer"
	"security-service/internal/otp"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	otps          OTPStore
	accounts      AccountStore
	blocks        BlockStore
	attempts      AttemptStore
	settings      SettingsStore
	sink          AuditSink
	mail          mailer.Mailer
	hasher        *hashing.Hasher
	encryptionMgr *encryption.EncryptionManager
	bucketingMgr  *bucketing.BucketingManager
	logger        *zap.Logger
	maxAttempts   int

	otpService      *OTPService
	lockoutService  *LockoutService
	settingsService *SettingsService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	otps OTPStore,
	accounts AccountStore,
	blocks BlockStore,
	attempts AttemptStore,
	settings SettingsStore,
	sink AuditSink,
	mail mailer.Mailer,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	bucketingMgr *bucketing.BucketingManager,
	logger *zap.Logger,
	maxAttempts int,
) *ServiceFactory {
	return &ServiceFactory{
		otps:          otps,
		accounts:      accounts,
		blocks:        blocks,
		attempts:      attempts,
		settings:      settings,
		sink:          sink,
		mail:          mail,
		hasher:        hasher,
		encryptionMgr: encryptionMgr,
		bucketingMgr:  bucketingMgr,
		logger:        logger,
		maxAttempts:   maxAttempts,
	}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(
			f.otps,
			f.accounts,
			f.settings,
			f.sink,
			f.mail,
			f.hasher,
			f.bucketingMgr,
			f.encryptionMgr,
			otp.Generate,
			f.maxAttempts,
		)
	}
	return f.otpService
}

// LockoutService returns the lockout service instance (singleton)
func (f *ServiceFactory) LockoutService() *LockoutService {
	if f.lockoutService == nil {
		f.lockoutService = NewLockoutService(
			f.blocks,
			f.attempts,
			f.settings,
			f.sink,
			f.bucketingMgr,
		)
	}
	return f.lockoutService
}

// SettingsService returns the settings service instance (singleton)
func (f *ServiceFactory) SettingsService() *SettingsService {
	if f.settingsService == nil {
		f.settingsService = NewSettingsService(f.settings, f.sink)
	}
	return f.settingsService
}
