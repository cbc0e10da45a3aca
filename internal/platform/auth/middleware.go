package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SubjectKey contextKey = "subject"
	ScopesKey  contextKey = "scopes"
)

// Claims carried by the bearer tokens exchanged between convert and receive.
type Claims struct {
	jwt.RegisteredClaims
	FHIRScopes []string `json:"fhir_scopes,omitempty"`
}

type JWTConfig struct {
	Issuer string
	// SigningKey is the shared HS256 secret.
	SigningKey []byte
	// Skipper lets selected requests through without a token.
	Skipper func(c echo.Context) bool
}

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/metadata": true,
}

// PublicSkipper skips authentication for capability discovery.
func PublicSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// JWTMiddleware requires a valid HS256 bearer token and stores its subject
// and scopes on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, SubjectKey, claims.Subject)
			ctx = context.WithValue(ctx, ScopesKey, claims.FHIRScopes)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(SubjectKey).(string)
	return sub
}

func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ScopesKey).([]string)
	return scopes
}
