package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const ctxLogger = "logger"

// RequestLogger logs one line per request and exposes a request-scoped
// logger to handlers through Logger.
func RequestLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = c.Response().Header().Get(echo.HeaderXRequestID)
			}
			l := base.With(zap.String("request_id", id))
			c.Set(ctxLogger, l)

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_ip", c.RealIP()),
			}
			if uid, ok := UserID(c); ok {
				fields = append(fields, zap.Uint64("user_id", uid))
			}
			switch s := c.Response().Status; {
			case s >= 500:
				l.Error("request", append(fields, zap.Error(err))...)
			case s >= 400:
				l.Warn("request", fields...)
			default:
				l.Info("request", fields...)
			}
			return nil
		}
	}
}

// Logger returns the request-scoped logger, or a no-op logger outside
// RequestLogger.
func Logger(c echo.Context) *zap.Logger {
	if l, ok := c.Get(ctxLogger).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}
