package receiver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/hcafhir/internal/platform/auth"
	"github.com/ehr/hcafhir/internal/platform/db"
	"github.com/ehr/hcafhir/internal/platform/middleware"
)

// MaxBodySize bounds request bodies; a whole-run bundle can be large.
const MaxBodySize = "64M"

const shutdownTimeout = 10 * time.Second

type ServerConfig struct {
	Store  Store
	Logger zerolog.Logger
	// Backend names the store in /health, e.g. "memory" or "postgres".
	Backend string
	// Describe adds backend details to /health.
	Describe func() interface{}
	// AuthSecret, when set, requires an HS256 bearer token on every
	// route except /metadata and /health.
	AuthSecret string
	AuthIssuer string
}

// NewServer wires the receiver routes and middleware onto a fresh echo
// instance.
func NewServer(cfg ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(cfg.Logger)

	e.Use(middleware.Recovery(cfg.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(cfg.Logger))
	e.Use(echomw.BodyLimit(MaxBodySize))

	e.GET("/health", db.HealthHandler(cfg.Store, cfg.Backend, cfg.Describe))

	var mw []echo.MiddlewareFunc
	if cfg.AuthSecret != "" {
		mw = append(mw, auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSecret),
			Skipper:    auth.PublicSkipper,
		}))
	}
	NewHandler(cfg.Store, cfg.Logger).RegisterRoutes(e, mw...)
	return e
}

// Serve runs e on addr until ctx is cancelled, then shuts it down
// gracefully.
func Serve(ctx context.Context, e *echo.Echo, addr string, logger zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("receiver listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down receiver")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
