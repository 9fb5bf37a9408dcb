package router // package router wires HTTP routes to their handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/pokearcanum/marketplace/internal/config"
	"github.com/pokearcanum/marketplace/internal/handler"
	"github.com/pokearcanum/marketplace/internal/middleware"
)

// Handlers bundles every handler the router mounts.
type Handlers struct {
	Auth        *handler.AuthHandler
	Marketplace *handler.MarketplaceHandler
	Cards       *handler.CardHandler
	Trades      *handler.TradeHandler
}

// Register mounts all routes on the Echo instance.
//
// Layout:
//
//	/healthz                     liveness probe
//	/v1/auth/...                 session lifecycle, rate limited
//	/v1/public/...               unauthenticated reads, cached
//	/v1/...                      everything else, JWT protected
//	/uploads/*                   card images served from disk
func Register(e *echo.Echo, cfg config.Config, h Handlers,
	limit echo.MiddlewareFunc, cache echo.MiddlewareFunc) {

	e.GET("/healthz", handler.Health)
	e.Static("/uploads", cfg.UploadDir)

	// Session lifecycle.  The token bucket sits in front of every auth
	// endpoint to slow down guessing.
	auth := e.Group("/v1/auth", limit)
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)

	// Public storefront reads.  Cached in Redis when available.
	pub := e.Group("/v1/public", cache)
	pub.GET("/listings", h.Marketplace.All)
	pub.GET("/listings/top", h.Marketplace.Top)
	pub.GET("/listings/:id", h.Marketplace.Get)
	pub.GET("/cards", h.Cards.List)
	pub.GET("/cards/:id", h.Cards.Get)
	pub.GET("/trades/recent", h.Trades.Recent)
	pub.GET("/trades/stats", h.Trades.Stats)
	pub.GET("/users/count", h.Auth.UserCount)

	// Everything below requires a valid access token.
	v1 := e.Group("/v1", middleware.JWTAuth(cfg))

	v1.POST("/auth/logout", h.Auth.Logout)
	v1.GET("/me", h.Auth.Me)
	v1.PUT("/me", h.Auth.UpdateProfile)

	v1.POST("/listings", h.Marketplace.Create)
	v1.GET("/listings/mine", h.Marketplace.Mine)
	v1.PUT("/listings/:id/price", h.Marketplace.UpdatePrice)
	v1.DELETE("/listings/:id", h.Marketplace.Delete)
	v1.POST("/listings/:id/reserve", h.Marketplace.Reserve)
	v1.DELETE("/listings/:id/reserve", h.Marketplace.Release)

	v1.PUT("/cards/:id", h.Cards.Update)
	v1.DELETE("/cards/:id", h.Cards.Delete)

	v1.POST("/trades", h.Trades.Settle)
	v1.GET("/trades/mine", h.Trades.Mine)
	v1.GET("/trades/:id", h.Trades.Get)
}
