package statusserver

import (
	"time"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/labstack/echo/v4"
)

// Recover turns a panic in a handler into an error response and logs its stack.
func Recover(l log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) (er error) {
			defer errors.Recover(func(err error) {
				l.Debug(errors.ErrorStack(err))
				er = err
			})

			return next(ctx)
		}
	}
}

// Logger logs every request at debug level.
func Logger(l log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			started := time.Now()
			err := next(ctx)

			req := ctx.Request()
			l.Debugf("%s %s %d %s", req.Method, req.URL.Path, ctx.Response().Status, time.Since(started).Round(time.Microsecond))

			return err
		}
	}
}
