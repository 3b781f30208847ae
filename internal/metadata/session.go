package metadata

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roomvault/roomvault/internal/errs"
)

// Session holds the metadata API bearer token. The token is a JWT issued by
// the metadata service; it is not verified here (the server verifies it), but
// its expiry claim is read so calls fail fast on a dead session instead of
// round-tripping a guaranteed 401.
type Session struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewSession parses the token's registered claims and returns a session.
func NewSession(token string) (*Session, error) {
	s := &Session{now: time.Now}
	if err := s.Update(token); err != nil {
		return nil, err
	}
	return s, nil
}

// Update replaces the session token, e.g. after a refresh.
func (s *Session) Update(token string) error {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("parse session token: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	} else {
		s.expiresAt = time.Time{}
	}
	return nil
}

// Token returns the current bearer token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Valid returns errs.ErrSessionExpired if the token's exp claim has passed.
// Tokens without an exp claim are treated as valid.
func (s *Session) Valid() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.expiresAt.IsZero() && s.now().After(s.expiresAt) {
		return errs.ErrSessionExpired
	}
	return nil
}
