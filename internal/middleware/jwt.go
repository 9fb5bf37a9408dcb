// Package middleware provides reusable HTTP middleware: access token
// verification, Redis-backed rate limiting and response caching.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pokearcanum/marketplace/internal/config"
	"github.com/pokearcanum/marketplace/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access
// token and injects the token's subject, email and username claims
// into the request context.  Verification is purely stateless: the
// signature, expiry, issuer and audience are checked against
// configuration and the store is never consulted.  Every failure mode
// returns the same 401 body so clients cannot probe whether a token
// was expired, forged or merely malformed.
func JWTAuth(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims, err := utils.ParseAccessToken(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			// Handlers read these via c.Get(); numeric claims decode as
			// float64 and are normalized by handler helpers.
			c.Set("user_id", claims["sub"])
			c.Set("email", claims["email"])
			c.Set("username", claims["username"])
			return next(c)
		}
	}
}
