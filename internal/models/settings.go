package models

import "time"

// SecuritySettings are the operator-tunable lockout knobs. They are loaded
// per operation and passed into the evaluator explicitly, never read from
// ambient global state.
type SecuritySettings struct {
	MaxLoginAttempts       int  `json:"max_login_attempts"`
	LockoutWindowMinutes   int  `json:"lockout_window_minutes"`
	LockoutDurationMinutes int  `json:"lockout_duration_minutes"`
	AuditLogEnabled        bool `json:"audit_log_enabled"`
}

// SecuritySettingsPatch is a partial update; nil fields are left unchanged.
type SecuritySettingsPatch struct {
	MaxLoginAttempts       *int  `json:"max_login_attempts,omitempty"`
	LockoutWindowMinutes   *int  `json:"lockout_window_minutes,omitempty"`
	LockoutDurationMinutes *int  `json:"lockout_duration_minutes,omitempty"`
	AuditLogEnabled        *bool `json:"audit_log_enabled,omitempty"`
}

// DefaultSecuritySettings mirrors the documented defaults: 5 failures in a
// trailing 15 minute window locks an address out for 15 minutes.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		MaxLoginAttempts:       5,
		LockoutWindowMinutes:   15,
		LockoutDurationMinutes: 15,
		AuditLogEnabled:        true,
	}
}

func (s SecuritySettings) LockoutWindow() time.Duration {
	return time.Duration(s.LockoutWindowMinutes) * time.Minute
}

func (s SecuritySettings) LockoutDuration() time.Duration {
	return time.Duration(s.LockoutDurationMinutes) * time.Minute
}

// Apply returns a copy of s with the patch's non-nil fields applied.
func (s SecuritySettings) Apply(p SecuritySettingsPatch) SecuritySettings {
	if p.MaxLoginAttempts != nil {
		s.MaxLoginAttempts = *p.MaxLoginAttempts
	}
	if p.LockoutWindowMinutes != nil {
		s.LockoutWindowMinutes = *p.LockoutWindowMinutes
	}
	if p.LockoutDurationMinutes != nil {
		s.LockoutDurationMinutes = *p.LockoutDurationMinutes
	}
	if p.AuditLogEnabled != nil {
		s.AuditLogEnabled = *p.AuditLogEnabled
	}
	return s
}
