package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into the 500 error envelope. The panic value
// and stack go to the log only. http.ErrAbortHandler is re-raised so the
// server can drop the connection.
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

				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Err(perr).
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if c.Response().Committed {
					err = nil
					return
				}
				err = c.JSON(http.StatusInternalServerError, ErrorBody(http.StatusText(http.StatusInternalServerError)))
				if err != nil {
					err = errors.Join(perr, err)
				}
			}()
			return next(c)
		}
	}
}
