package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"security-service/internal/models"
	"security-service/internal/util"
)

// SettingsService exposes the operator-tunable lockout knobs.
type SettingsService struct {
	settings SettingsStore
	sink     AuditSink
}

func NewSettingsService(settings SettingsStore, sink AuditSink) *SettingsService {
	return &SettingsService{settings: settings, sink: sink}
}

func (s *SettingsService) Get(ctx context.Context) (models.SecuritySettings, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return models.SecuritySettings{}, fmt.Errorf("%w: load settings: %v", ErrPersistence, err)
	}
	return settings, nil
}

// Update applies a partial patch on top of the current settings. Nil patch
// fields leave their current values untouched.
func (s *SettingsService) Update(ctx context.Context, patch models.SecuritySettingsPatch, actor string) (models.SecuritySettings, error) {
	current, err := s.settings.Get(ctx)
	if err != nil {
		return models.SecuritySettings{}, fmt.Errorf("%w: load settings: %v", ErrPersistence, err)
	}

	updated := current.Apply(patch)
	if updated.MaxLoginAttempts <= 0 ||
		updated.LockoutWindowMinutes <= 0 ||
		updated.LockoutDurationMinutes <= 0 {
		return models.SecuritySettings{}, fmt.Errorf("%w: lockout values must be positive", ErrInvalidInput)
	}

	if err := s.settings.Save(ctx, updated); err != nil {
		return models.SecuritySettings{}, fmt.Errorf("%w: save settings: %v", ErrPersistence, err)
	}

	// Settings updates are always audited, even when the update itself
	// turns auditing off; the toggle event is the last entry written.
	if s.sink != nil {
		s.sink.Enqueue(&models.AuditLogEntry{
			ActorRef:     actor,
			Action:       models.AuditActionSettingsUpdated,
			ResourceType: "security_settings",
			Description:  "security settings updated",
			Metadata: map[string]string{
				"max_login_attempts":       fmt.Sprintf("%d", updated.MaxLoginAttempts),
				"lockout_window_minutes":   fmt.Sprintf("%d", updated.LockoutWindowMinutes),
				"lockout_duration_minutes": fmt.Sprintf("%d", updated.LockoutDurationMinutes),
				"audit_log_enabled":        fmt.Sprintf("%t", updated.AuditLogEnabled),
			},
		})
	}

	util.Info("Security settings updated", zap.String("actor", actor))
	return updated, nil
}
