package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxStack bounds the goroutine stack captured for a panic.
const maxStack = 8 << 10

// Recovery converts a handler panic into a 500 carrying the panic as its
// internal error, so the error handler answers with an OperationOutcome.
// http.ErrAbortHandler is re-raised for net/http to abort the response.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				stack := make([]byte, maxStack)
				stack = stack[:runtime.Stack(stack, false)]

				evt := logger.Error().
					Str("request_id", requestID(c)).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack)
				if typ, id := c.Param("type"), c.Param("id"); typ != "" && id != "" {
					evt = evt.Str("resource", typ+"/"+id)
				}
				evt.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error").
					SetInternal(fmt.Errorf("panic: %v", r))
			}()
			return next(c)
		}
	}
}
