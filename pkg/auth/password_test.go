package auth

import (
	"strings"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !CheckPassword("correct horse battery staple", hash) {
		t.Fatal("expected correct password to validate")
	}
	if CheckPassword("wrong password", hash) {
		t.Fatal("expected wrong password to fail")
	}
}

func TestHashPasswordLongInput(t *testing.T) {
	long := strings.Repeat("a", 200)
	hash, err := HashPassword(long)
	if err != nil {
		t.Fatalf("hash long password: %v", err)
	}
	if !CheckPassword(long, hash) {
		t.Fatal("expected long password to validate")
	}
	if CheckPassword(long+"b", hash) {
		t.Fatal("expected different long password to fail")
	}
}

func TestCheckPasswordMalformedHash(t *testing.T) {
	if CheckPassword("anything", "not-a-bcrypt-hash") {
		t.Fatal("expected malformed hash to fail validation")
	}
}
