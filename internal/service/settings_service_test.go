package service

import (
	"context"
	"errors"
	"testing"

	"security-service/internal/models"
)

func TestSettingsGetDefaults(t *testing.T) {
	store := newFakeSettingsStore()
	svc := NewSettingsService(store, &recordingSink{})

	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != models.DefaultSecuritySettings() {
		t.Errorf("Get() = %+v, want defaults", got)
	}
}

func TestSettingsPartialUpdate(t *testing.T) {
	store := newFakeSettingsStore()
	sink := &recordingSink{}
	svc := NewSettingsService(store, sink)

	three := 3
	updated, err := svc.Update(context.Background(), models.SecuritySettingsPatch{
		MaxLoginAttempts: &three,
	}, "admin@x.com")
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.MaxLoginAttempts != 3 {
		t.Errorf("MaxLoginAttempts = %d, want 3", updated.MaxLoginAttempts)
	}
	// Untouched fields keep their previous values.
	if updated.LockoutWindowMinutes != 15 || !updated.AuditLogEnabled {
		t.Errorf("unrelated fields changed: %+v", updated)
	}

	actions := sink.actions()
	if len(actions) != 1 || actions[0] != models.AuditActionSettingsUpdated {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestSettingsRejectNonPositiveValues(t *testing.T) {
	store := newFakeSettingsStore()
	svc := NewSettingsService(store, &recordingSink{})

	zero := 0
	if _, err := svc.Update(context.Background(), models.SecuritySettingsPatch{
		MaxLoginAttempts: &zero,
	}, "admin"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Update() error = %v, want ErrInvalidInput", err)
	}

	// The stored document is untouched after a rejected patch.
	current, _ := store.Get(context.Background())
	if current != models.DefaultSecuritySettings() {
		t.Errorf("settings mutated by rejected update: %+v", current)
	}
}

func TestDisablingAuditStillAuditsTheToggle(t *testing.T) {
	store := newFakeSettingsStore()
	sink := &recordingSink{}
	svc := NewSettingsService(store, sink)

	off := false
	if _, err := svc.Update(context.Background(), models.SecuritySettingsPatch{
		AuditLogEnabled: &off,
	}, "admin"); err != nil {
		t.Fatal(err)
	}

	if len(sink.actions()) != 1 {
		t.Error("the audit-off toggle itself was not audited")
	}
}
