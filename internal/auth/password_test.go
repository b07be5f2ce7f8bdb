package auth

import "testing"

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected non-empty hash distinct from plaintext, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected password check to fail")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("Secret1"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword("abc12"); err == nil {
		t.Fatalf("expected short password to fail")
	}
	// Length is the only rule; no composition requirements.
	if err := ValidatePassword("aaaaaa"); err != nil {
		t.Fatalf("expected length-only rule, got: %v", err)
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		ok    bool
	}{
		{"a@x.com", true},
		{"first.last@example.co.uk", true},
		{"no-at-sign", false},
		{"", false},
		{"Name <a@x.com>", false},
	}
	for _, tc := range tests {
		err := ValidateEmail(tc.email)
		if tc.ok && err != nil {
			t.Fatalf("email %q: expected valid, got %v", tc.email, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("email %q: expected invalid", tc.email)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@X.COM "); got != "user@x.com" {
		t.Fatalf("normalize = %q", got)
	}
}
