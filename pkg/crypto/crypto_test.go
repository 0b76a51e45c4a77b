package crypto

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("pw1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.Contains(hash, "$") {
		t.Fatalf("HashPassword: missing salt separator: %q", hash)
	}

	ok, err := VerifyPassword("pw1", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("VerifyPassword: correct password rejected")
	}

	ok, err = VerifyPassword("wrong", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Error("VerifyPassword: wrong password accepted")
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, err := HashPassword("pw1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("pw1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password must differ by salt")
	}
}

func TestVerifyMalformed(t *testing.T) {
	for _, stored := range []string{"", "nosalt", "zz$zz", "aabb$zz"} {
		if _, err := VerifyPassword("pw", stored); err != ErrMalformedHash {
			t.Errorf("VerifyPassword(%q): want ErrMalformedHash, got %v", stored, err)
		}
	}
}
