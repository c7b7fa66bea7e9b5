package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// PanicError is the internal error behind a recovered panic. It keeps the
// panic value and the goroutine stack for the request log.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recovery turns a handler panic into a 500 carrying a *PanicError. It sits
// inside Logger so the request line records the failure; the stack is
// logged here at debug level.
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
				pe := &PanicError{Value: r, Stack: debug.Stack()}
				logger.Debug().
					Str("request_id", GetRequestID(c)).
					Str("route", c.Path()).
					Str("table", c.Param("table")).
					Bytes("stack", pe.Stack).
					Msg("panic recovered")
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(pe)
			}()
			return next(c)
		}
	}
}
