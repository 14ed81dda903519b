package hashing

import (
	"testing"

	"security-service/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Hashing: config.HashingConfig{
			// Cheap parameters; cost tuning is not under test.
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "unit-test-pepper",
			PepperVersion:     3,
		},
	}
}

func TestHashAndVerifyOTP(t *testing.T) {
	h := NewHasher(testConfig())

	result, err := h.HashOTP("482913")
	if err != nil {
		t.Fatalf("HashOTP() error: %v", err)
	}
	if result.PepperVersion != 3 {
		t.Errorf("PepperVersion = %d, want 3", result.PepperVersion)
	}
	if result.Algorithm != "argon2id-v1" {
		t.Errorf("Algorithm = %q", result.Algorithm)
	}

	ok, err := h.VerifyOTP("482913", result)
	if err != nil {
		t.Fatalf("VerifyOTP() error: %v", err)
	}
	if !ok {
		t.Error("VerifyOTP() = false for matching code")
	}

	ok, err = h.VerifyOTP("482914", result)
	if err != nil {
		t.Fatalf("VerifyOTP() error: %v", err)
	}
	if ok {
		t.Error("VerifyOTP() = true for wrong code")
	}
}

func TestVerifyUnknownPepperVersion(t *testing.T) {
	h := NewHasher(testConfig())

	result, err := h.HashOTP("000042")
	if err != nil {
		t.Fatalf("HashOTP() error: %v", err)
	}
	result.PepperVersion = 99

	if _, err := h.VerifyOTP("000042", result); err != ErrPepperVersionUnknown {
		t.Fatalf("VerifyOTP() error = %v, want ErrPepperVersionUnknown", err)
	}
}

func TestAddPepperKeepsOldRecordsVerifiable(t *testing.T) {
	old := NewHasher(testConfig())
	result, err := old.HashOTP("731004")
	if err != nil {
		t.Fatalf("HashOTP() error: %v", err)
	}

	cfg := testConfig()
	cfg.Hashing.Pepper = "rotated-pepper"
	cfg.Hashing.PepperVersion = 4
	rotated := NewHasher(cfg)
	rotated.AddPepper(3, "unit-test-pepper")

	ok, err := rotated.VerifyOTP("731004", result)
	if err != nil {
		t.Fatalf("VerifyOTP() error: %v", err)
	}
	if !ok {
		t.Error("VerifyOTP() = false after pepper rotation with old pepper registered")
	}
}

func TestHashEmailDeterministic(t *testing.T) {
	a := HashEmail("user@x.com")
	b := HashEmail("user@x.com")
	if a != b {
		t.Error("HashEmail is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("HashEmail length = %d, want 64 hex chars", len(a))
	}
	if HashEmail("other@x.com") == a {
		t.Error("distinct emails share a hash")
	}
}

func TestSaltsDiffer(t *testing.T) {
	h := NewHasher(testConfig())

	a, err := h.HashOTP("123456")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.HashOTP("123456")
	if err != nil {
		t.Fatal(err)
	}
	if a.Salt == b.Salt || a.Hash == b.Hash {
		t.Error("two hashes of the same code share salt or digest")
	}
}
