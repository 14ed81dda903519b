package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"security-service/internal/models"
	"security-service/internal/util"
)

const settingsKey = "security:settings"

// SettingsCache holds the single operator-tunable settings document.
// A missing document means the defaults are in force.
type SettingsCache struct {
	client redis.UniversalClient
}

func NewSettingsCache(client redis.UniversalClient) *SettingsCache {
	return &SettingsCache{client: client}
}

func (c *SettingsCache) Get(ctx context.Context) (models.SecuritySettings, error) {
	raw, err := c.client.Get(ctx, settingsKey).Result()
	if err != nil {
		if err == redis.Nil {
			return models.DefaultSecuritySettings(), nil
		}
		util.Error("Failed to read security settings", zap.Error(err))
		return models.SecuritySettings{}, fmt.Errorf("failed to read security settings: %w", err)
	}

	var settings models.SecuritySettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return models.SecuritySettings{}, fmt.Errorf("failed to decode security settings: %w", err)
	}
	return settings, nil
}

func (c *SettingsCache) Save(ctx context.Context, settings models.SecuritySettings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode security settings: %w", err)
	}

	if err := c.client.Set(ctx, settingsKey, payload, 0).Err(); err != nil {
		util.Error("Failed to store security settings", zap.Error(err))
		return fmt.Errorf("failed to store security settings: %w", err)
	}

	util.Info("Security settings updated",
		zap.Int("max_login_attempts", settings.MaxLoginAttempts),
		zap.Int("lockout_window_minutes", settings.LockoutWindowMinutes),
		zap.Int("lockout_duration_minutes", settings.LockoutDurationMinutes),
		zap.Bool("audit_log_enabled", settings.AuditLogEnabled))
	return nil
}
