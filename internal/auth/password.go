package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

const (
	// MinPasswordLength is the minimum required password length
	MinPasswordLength = 12

	saltLength = 16
	keyLength  = 32
)

// PasswordValidationError represents a specific password validation failure
type PasswordValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PasswordHasherConfig holds Argon2id tuning parameters
type PasswordHasherConfig struct {
	Pepper      string
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// PasswordHasher hashes and verifies passwords with Argon2id. A server-wide
// pepper is appended to every password before hashing, so a database dump
// alone is not enough for an offline attack.
type PasswordHasher struct {
	pepper      []byte
	memoryKiB   uint32
	iterations  uint32
	parallelism uint8
}

// NewPasswordHasher creates a PasswordHasher. When no pepper is configured a
// random one is generated and a warning logged: hashes minted with a
// generated pepper become unverifiable after the next restart.
func NewPasswordHasher(cfg PasswordHasherConfig, logger *slog.Logger) *PasswordHasher {
	if logger == nil {
		logger = slog.Default()
	}

	pepper := []byte(cfg.Pepper)
	if len(pepper) == 0 {
		pepper = make([]byte, 32)
		if _, err := rand.Read(pepper); err != nil {
			panic(fmt.Sprintf("generate fallback pepper: %v", err))
		}
		logger.Warn("AUTH_PEPPER is not configured; generated a random pepper. " +
			"All password hashes will be invalidated on restart.")
	}

	memory := cfg.MemoryKiB
	if memory == 0 {
		memory = 64 * 1024
	}
	iterations := cfg.Iterations
	if iterations == 0 {
		iterations = 4
	}
	parallelism := cfg.Parallelism
	if parallelism == 0 {
		parallelism = 1
	}

	return &PasswordHasher{
		pepper:      pepper,
		memoryKiB:   memory,
		iterations:  iterations,
		parallelism: parallelism,
	}
}

// Hash derives an Argon2id hash of password+pepper and returns it in PHC
// string format with the salt and parameters embedded.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey(h.peppered(password), salt, h.iterations, h.memoryKiB, h.parallelism, keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memoryKiB,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify recomputes the hash with the stored parameters and compares in
// constant time. Every internal failure is reported as a plain mismatch so
// callers cannot distinguish a malformed hash from a wrong password.
func (h *PasswordHasher) Verify(encoded, password string) bool {
	salt, key, memory, iterations, parallelism, ok := decodeHash(encoded)
	if !ok {
		return false
	}

	candidate := argon2.IDKey(h.peppered(password), salt, iterations, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1
}

// DummyVerify burns the same hashing cost as a real verification. The login
// path calls this when the account does not exist so the response cost is
// indistinguishable from a wrong-password failure.
func (h *PasswordHasher) DummyVerify(password string) {
	salt := make([]byte, saltLength)
	argon2.IDKey(h.peppered(password), salt, h.iterations, h.memoryKiB, h.parallelism, keyLength)
}

func (h *PasswordHasher) peppered(password string) []byte {
	buf := make([]byte, 0, len(password)+len(h.pepper))
	buf = append(buf, password...)
	buf = append(buf, h.pepper...)
	return buf
}

func decodeHash(encoded string) (salt, key []byte, memory, iterations uint32, parallelism uint8, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, false
	}

	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &p); err != nil {
		return nil, nil, 0, 0, 0, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, false
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, false
	}

	return salt, key, memory, iterations, p, true
}

// ValidatePassword checks a password against the complexity policy.
// Returns a list of validation errors (empty if the password is valid).
func ValidatePassword(password string) []PasswordValidationError {
	var errors []PasswordValidationError

	if len(password) < MinPasswordLength {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must be at least 12 characters long",
		})
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one uppercase letter",
		})
	}
	if !hasLower {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one lowercase letter",
		})
	}
	if !hasNumber {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one number",
		})
	}
	if !hasSpecial {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one special character",
		})
	}

	return errors
}
