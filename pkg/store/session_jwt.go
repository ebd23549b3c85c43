package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"ragchat/internal/util"
)

// JWTSessionStore issues and validates HS256 session tokens.
// Revocation is tracked by token ID through a TokenRevoker, so signout
// works despite the tokens themselves being stateless.
type JWTSessionStore struct {
	secret  []byte
	ttl     time.Duration
	revoker TokenRevoker
}

// NewJWTSessionStore builds a JWT session store. revoker may be nil,
// in which case DeleteSession is a no-op.
func NewJWTSessionStore(secret string, ttl time.Duration, revoker TokenRevoker) *JWTSessionStore {
	return &JWTSessionStore{
		secret:  []byte(secret),
		ttl:     ttl,
		revoker: revoker,
	}
}

// NewSession creates a signed token carrying the user ID as subject.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        util.NewID(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// GetUserIDByToken validates a token and returns its subject.
// Expired, malformed, and revoked tokens all resolve to not-found.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", false, nil
	}
	if s.revoker != nil && claims.ID != "" {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return "", false, err
		}
		if revoked {
			return "", false, nil
		}
	}
	return claims.Subject, true, nil
}

// DeleteSession revokes a token until its natural expiry.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		// Nothing to revoke for a token that never validates.
		return nil
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.revoker.Revoke(claims.ID, ttl)
}

func (s *JWTSessionStore) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
