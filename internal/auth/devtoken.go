// Package auth provides the development token source used against the
// stub backend. Production token acquisition (MSAL) is an external
// collaborator; the core only consumes an oauth2.TokenSource.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Claims holds the dev JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// refreshMargin renews the cached token well before expiry so in-flight
// requests never carry a token about to lapse.
const refreshMargin = 30 * time.Second

// DevTokenSource is an oauth2.TokenSource that self-issues HS256 JWTs
// accepted by the stub backend. Tokens are cached until near expiry.
type DevTokenSource struct {
	secret string
	userID uuid.UUID
	ttl    time.Duration

	mu     sync.Mutex
	cached *oauth2.Token
}

// NewDevTokenSource creates a token source for the given user identity.
func NewDevTokenSource(secret string, userID uuid.UUID, ttl time.Duration) *DevTokenSource {
	return &DevTokenSource{
		secret: secret,
		userID: userID,
		ttl:    ttl,
	}
}

// Token returns a valid bearer token, reusing the cached one while it
// has comfortable lifetime left.
func (s *DevTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Until(s.cached.Expiry) > refreshMargin {
		return s.cached, nil
	}

	now := time.Now()
	expiry := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			Issuer:    "weft-dev",
		},
		UserID: s.userID.String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
	if err != nil {
		return nil, fmt.Errorf("auth.DevTokenSource.Token: %w", err)
	}

	s.cached = &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}
	return s.cached, nil
}

// ValidateToken parses and validates a dev JWT. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}
