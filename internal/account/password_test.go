package account

import (
	"strings"
	"testing"
)

func TestPasswordHashAndVerify(t *testing.T) {
	salt, err := GenerateSaltHex()
	if err != nil {
		t.Fatalf("GenerateSaltHex: %v", err)
	}
	hash, err := HashPassword("p@ssw0rd", salt)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "" {
		t.Fatal("empty hash")
	}
	if !VerifyPassword("p@ssw0rd", salt, hash) {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword("wrong", salt, hash) {
		t.Fatal("wrong password accepted")
	}
}

func TestGenerateTempPassword(t *testing.T) {
	p, err := GenerateTempPassword(TempPasswordLength)
	if err != nil {
		t.Fatalf("GenerateTempPassword: %v", err)
	}
	if len(p) != TempPasswordLength {
		t.Fatalf("length = %d, want %d", len(p), TempPasswordLength)
	}
	for _, c := range p {
		if !strings.ContainsRune(tempPasswordChars, c) {
			t.Fatalf("character %q outside allowed set", c)
		}
	}

	other, err := GenerateTempPassword(TempPasswordLength)
	if err != nil {
		t.Fatalf("GenerateTempPassword: %v", err)
	}
	if p == other {
		t.Fatal("two generated passwords are identical")
	}
}
