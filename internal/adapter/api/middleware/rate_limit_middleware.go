package middleware

import (
	"github.com/labstack/echo/v4"

	"gigchat/internal/infrastructure/ratelimit"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
	"gigchat/pkg/response"
)

// RateLimitMiddleware throttles bridge requests per client IP.
func RateLimitMiddleware(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if allowed, wait := limiter.Allow(ip, ratelimit.ActionBridgeRequest); !allowed {
				logger.Warn("RATE LIMIT: Blocked request from IP %s (reset in %v)", ip, wait)
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded", wait))
			}
			return next(c)
		}
	}
}
