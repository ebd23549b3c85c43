package store

import (
	"testing"
	"time"
)

func TestJWTSessionRoundTrip(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Hour, nil)
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("get user by token: %v", err)
	}
	if !ok || userID != "user-1" {
		t.Fatalf("got (%q, %v), want (user-1, true)", userID, ok)
	}
}

func TestJWTSessionExpired(t *testing.T) {
	s := NewJWTSessionStore("test-secret", -time.Minute, nil)
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestJWTSessionWrongSecret(t *testing.T) {
	issuer := NewJWTSessionStore("secret-a", time.Hour, nil)
	verifier := NewJWTSessionStore("secret-b", time.Hour, nil)
	token, err := issuer.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := verifier.GetUserIDByToken(token); ok {
		t.Fatal("expected token signed with different secret to be rejected")
	}
}

func TestJWTSessionMalformedToken(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Hour, nil)
	if _, ok, _ := s.GetUserIDByToken("not.a.token"); ok {
		t.Fatal("expected malformed token to be rejected")
	}
}

func TestJWTSessionRevocation(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Hour, NewMemoryTokenRevoker())
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); !ok {
		t.Fatal("expected fresh token to validate")
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatal("expected revoked token to be rejected")
	}

	// A second token for the same user stays valid.
	other, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(other); !ok {
		t.Fatal("expected unrevoked token to validate")
	}
}
