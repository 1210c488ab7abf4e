package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/kbhujbal/edunexus/core"
	"github.com/kbhujbal/edunexus/core/user"
	"github.com/kbhujbal/edunexus/services/metrics"
)

// roleMiddleware lets through authenticated users holding at least one of roles.
func roleMiddleware(roles ...user.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return err
			}
			if err = user.RequireRole(usr, roles...); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

// authRateLimiter throttles credential endpoints per client IP.
func authRateLimiter(conf *core.Config) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(conf.Server.AuthRateLimit),
		Burst:     conf.Server.AuthRateBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")
		},
	})
}

func metricsMiddleware(collector *metricsvc.Collector) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err) // commit the response to know its status
			}
			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			collector.RecordHTTPRequest(ctx.Request().Method, route, ctx.Response().Status, time.Since(start))
			return err
		}
	}
}
