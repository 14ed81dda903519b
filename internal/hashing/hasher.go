package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"

	"security-service/internal/config"
	"security-service/internal/util"
)

var (
	ErrInvalidHash          = errors.New("invalid hash format")
	ErrPepperVersionUnknown = errors.New("pepper version not found")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives argon2id digests of OTP codes for at-rest storage. The
// pepper comes from configuration so codes issued before a restart remain
// verifiable; when none is configured (dev, tests) an ephemeral one is
// generated.
type Hasher struct {
	params  Argon2Params
	peppers map[int]string
	version int
	mu      sync.RWMutex
}

// HashResult carries everything needed to re-verify a code later.
type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}

	pepper := cfg.Hashing.Pepper
	version := cfg.Hashing.PepperVersion
	if pepper == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			util.Fatal("Failed to generate ephemeral pepper", util.ErrorField(err))
		}
		pepper = base64.RawURLEncoding.EncodeToString(raw)
		util.Warn("No hashing pepper configured, using ephemeral pepper",
			util.Int("version", version))
	}

	return &Hasher{
		params:  params,
		peppers: map[int]string{version: pepper},
		version: version,
	}
}

// AddPepper registers an older pepper so records written before a rotation
// stay verifiable.
func (h *Hasher) AddPepper(version int, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peppers[version] = value
}

// HashOTP hashes a one-time code for storage.
func (h *Hasher) HashOTP(code string) (*HashResult, error) {
	return h.hashWithPepper(code, "otp")
}

// VerifyOTP recomputes the digest for a submitted code and compares it in
// constant time against the stored result.
func (h *Hasher) VerifyOTP(code string, stored *HashResult) (bool, error) {
	return h.verifyWithPepper(code, stored, "otp")
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	h.mu.RLock()
	version := h.version
	pepper := h.peppers[version]
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Context string keeps digests from being reusable across purposes.
	contextual := data + pepper + context

	hash := argon2.IDKey(
		[]byte(contextual),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: version,
		Algorithm:     "argon2id-v1",
	}, nil
}

// HashEmail produces the deterministic lookup key for an email address.
// Unlike OTP digests this must be stable across processes, so it is a
// plain unsalted sha256 over the normalized address.
func HashEmail(normalizedEmail string) string {
	sum := sha256.Sum256([]byte(normalizedEmail))
	return hex.EncodeToString(sum[:])
}

func (h *Hasher) verifyWithPepper(data string, stored *HashResult, context string) (bool, error) {
	h.mu.RLock()
	pepper, ok := h.peppers[stored.PepperVersion]
	h.mu.RUnlock()
	if !ok {
		return false, ErrPepperVersionUnknown
	}

	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	contextual := data + pepper + context
	computed := argon2.IDKey(
		[]byte(contextual),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
