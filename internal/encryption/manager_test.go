package encryption

import (
	"context"
	"testing"

	"security-service/internal/config"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)

	sealed, err := em.EncryptEmail(context.Background(), "user@x.com")
	if err != nil {
		t.Fatalf("EncryptEmail() error: %v", err)
	}
	if sealed.EncryptedValue == "user@x.com" {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := em.DecryptEmail(context.Background(), sealed)
	if err != nil {
		t.Fatalf("DecryptEmail() error: %v", err)
	}
	if got != "user@x.com" {
		t.Errorf("DecryptEmail() = %q, want %q", got, "user@x.com")
	}
}

func TestDecryptAfterCacheClear(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)

	sealed, err := em.EncryptEmail(context.Background(), "author@site.io")
	if err != nil {
		t.Fatal(err)
	}
	em.ClearCache()

	got, err := em.DecryptEmail(context.Background(), sealed)
	if err != nil {
		t.Fatalf("DecryptEmail() after cache clear: %v", err)
	}
	if got != "author@site.io" {
		t.Errorf("DecryptEmail() = %q", got)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)

	sealed, err := em.EncryptEmail(context.Background(), "victim@x.com")
	if err != nil {
		t.Fatal(err)
	}
	sealed.EncryptedValue = "AAAA" + sealed.EncryptedValue[4:]
	em.ClearCache()

	if _, err := em.DecryptEmail(context.Background(), sealed); err == nil {
		t.Error("DecryptEmail() succeeded on tampered ciphertext")
	}
}
