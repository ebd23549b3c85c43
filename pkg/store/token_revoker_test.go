package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTokenRevoker(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("tok-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("tok-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatal("expected tok-1 to be revoked")
	}
	if revoked, _ := r.IsRevoked("tok-2"); revoked {
		t.Fatal("expected tok-2 to be unrevoked")
	}
}

func TestMemoryTokenRevokerExpiry(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("tok-1", -time.Second); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := r.IsRevoked("tok-1"); revoked {
		t.Fatal("expected non-positive ttl to be a no-op")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")

	if err := r.Revoke("tok-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("tok-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatal("expected tok-1 to be revoked")
	}

	mr.FastForward(2 * time.Minute)
	if revoked, _ := r.IsRevoked("tok-1"); revoked {
		t.Fatal("expected revocation to lapse with the key ttl")
	}
}
