package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "hca-fhir",
			Subject:   "convert",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		FHIRScopes: []string{"system/Patient.write"},
	}
}

func runMiddleware(t *testing.T, cfg JWTConfig, path, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	var seen echo.Context
	handler := func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	}
	err := JWTMiddleware(cfg)(handler)(c)
	return seen, err
}

func expectUnauthorized(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, "/Patient/1", "")
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, "/", tt.header)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, validClaims(), testSigningKey)
	c, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey, Issuer: "hca-fhir"}, "/", "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if SubjectFromContext(ctx) != "convert" {
		t.Errorf("subject = %q", SubjectFromContext(ctx))
	}
	if scopes := ScopesFromContext(ctx); len(scopes) != 1 || scopes[0] != "system/Patient.write" {
		t.Errorf("scopes = %v", scopes)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
	}{
		{"wrong key", createTestToken(t, validClaims(), []byte("other-key"))},
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"no expiry", createTestToken(t, noExpiry, testSigningKey)},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey)},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey, Issuer: "hca-fhir"}, "/", "Bearer "+tt.token)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: PublicSkipper}

	if _, err := runMiddleware(t, cfg, "/metadata", ""); err != nil {
		t.Errorf("metadata must be public, got %v", err)
	}
	_, err := runMiddleware(t, cfg, "/Patient/1", "")
	expectUnauthorized(t, err)
}

func TestTokenSource_RoundTrip(t *testing.T) {
	ts := NewTokenSource(string(testSigningKey), "hca-fhir", "convert")
	token, err := ts.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey, Issuer: "hca-fhir"}, "/", "Bearer "+token)
	if err != nil {
		t.Fatalf("signed token rejected: %v", err)
	}
	if SubjectFromContext(c.Request().Context()) != "convert" {
		t.Error("subject not propagated")
	}
}

func TestTokenSource_CachesUntilNearExpiry(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	ts := NewTokenSource("secret", "hca-fhir", "convert")
	ts.now = func() time.Time { return now }

	first, err := ts.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	second, _ := ts.Token(context.Background())
	if first != second {
		t.Error("token should be reused while comfortably valid")
	}
	now = now.Add(DefaultTokenTTL)
	third, _ := ts.Token(context.Background())
	if third == first {
		t.Error("token should be re-signed near expiry")
	}
}
