package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of a signed token.
const DefaultTokenTTL = 5 * time.Minute

// DefaultScopes grants write access to the resource types the converter
// produces.
var DefaultScopes = []string{
	"system/Patient.write",
	"system/Condition.write",
	"system/Observation.write",
	"system/Procedure.write",
	"system/MedicationOrder.write",
}

// TokenSource signs short-lived HS256 tokens with a shared secret. A token
// is reused until it is within a minute of expiring.
type TokenSource struct {
	issuer  string
	subject string
	key     []byte
	ttl     time.Duration
	now     func() time.Time

	cached  string
	expires time.Time
}

func NewTokenSource(secret, issuer, subject string) *TokenSource {
	return &TokenSource{
		issuer:  issuer,
		subject: subject,
		key:     []byte(secret),
		ttl:     DefaultTokenTTL,
		now:     time.Now,
	}
}

// Token returns a valid bearer token.
func (s *TokenSource) Token(_ context.Context) (string, error) {
	now := s.now()
	if s.cached != "" && now.Add(time.Minute).Before(s.expires) {
		return s.cached, nil
	}

	expires := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   s.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		FHIRScopes: DefaultScopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	s.cached, s.expires = signed, expires
	return signed, nil
}
