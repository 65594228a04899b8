package auth

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func testHasher() *PasswordHasher {
	// Low-cost parameters keep the suite fast; the algorithm is identical.
	return NewPasswordHasher(PasswordHasherConfig{
		Pepper:      "test-pepper",
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
	}, nil)
}

func TestPasswordHash_RoundTrip(t *testing.T) {
	hasher := testHasher()

	rapid.Check(t, func(t *rapid.T) {
		password := rapid.StringMatching(`[ -~]{8,64}`).Draw(t, "password")

		encoded, err := hasher.Hash(password)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}

		if !strings.HasPrefix(encoded, "$argon2id$") {
			t.Fatalf("expected PHC argon2id encoding, got %q", encoded)
		}
		if strings.Contains(encoded, password) {
			t.Fatal("encoded hash contains the plaintext password")
		}
		if !hasher.Verify(encoded, password) {
			t.Fatal("Verify rejected the original password")
		}
	})
}

func TestPasswordHash_WrongPasswordRejected(t *testing.T) {
	hasher := testHasher()

	rapid.Check(t, func(t *rapid.T) {
		password := rapid.StringMatching(`[ -~]{8,64}`).Draw(t, "password")
		other := rapid.StringMatching(`[ -~]{8,64}`).Draw(t, "other")
		if password == other {
			t.Skip("identical passwords")
		}

		encoded, err := hasher.Hash(password)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}
		if hasher.Verify(encoded, other) {
			t.Fatal("Verify accepted a different password")
		}
	})
}

func TestPasswordHash_SaltsDiffer(t *testing.T) {
	hasher := testHasher()

	first, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same password are identical; salt is not random")
	}
}

func TestPasswordHash_PepperRequired(t *testing.T) {
	hasher := testHasher()
	otherPepper := NewPasswordHasher(PasswordHasherConfig{
		Pepper:      "a different pepper",
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
	}, nil)

	encoded, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if otherPepper.Verify(encoded, "correct horse battery staple") {
		t.Fatal("hash verified without the original pepper")
	}
}

func TestPasswordVerify_MalformedEncodings(t *testing.T) {
	hasher := testHasher()

	malformed := []string{
		"",
		"not-a-hash",
		"$argon2id$",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$!!!",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
	}
	for _, encoded := range malformed {
		if hasher.Verify(encoded, "whatever") {
			t.Errorf("Verify accepted malformed encoding %q", encoded)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		wantValid bool
	}{
		{"valid complex password", "Str0ng&Secure#Pass", true},
		{"too short", "Ab1!efgh", false},
		{"missing uppercase", "str0ng&secure#pass", false},
		{"missing lowercase", "STR0NG&SECURE#PASS", false},
		{"missing digit", "Strong&Secure#Pass", false},
		{"missing special", "Str0ngSecurePass1", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidatePassword(tt.password)
			if tt.wantValid && len(errs) > 0 {
				t.Errorf("expected valid, got errors: %v", errs)
			}
			if !tt.wantValid && len(errs) == 0 {
				t.Error("expected validation errors, got none")
			}
		})
	}
}

func TestDummyVerify_DoesNotPanic(t *testing.T) {
	hasher := testHasher()
	hasher.DummyVerify("any password")
	hasher.DummyVerify("")
}
