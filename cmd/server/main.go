package main // Entry point package

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/pokearcanum/marketplace/internal/config"
	"github.com/pokearcanum/marketplace/internal/database"
	"github.com/pokearcanum/marketplace/internal/handler"
	"github.com/pokearcanum/marketplace/internal/middleware"
	"github.com/pokearcanum/marketplace/internal/queue"
	"github.com/pokearcanum/marketplace/internal/repository"
	"github.com/pokearcanum/marketplace/internal/router"
	"github.com/pokearcanum/marketplace/internal/service"
	"github.com/pokearcanum/marketplace/internal/storage"
)

func main() {
	// .env is optional; real deployments set variables directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	users := repository.NewUserRepo(db)
	cards := repository.NewCardRepo(db)
	listings := repository.NewListingRepo(db)
	trades := repository.NewTradeRepo(db)

	sessions := service.NewSessions(users,
		cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTLMin, cfg.RefreshTTLDays, cfg.BcryptCost)
	settlement := service.NewSettlement(listings, trades, users,
		time.Duration(cfg.ReserveTTLMin)*time.Minute, service.PublishTradeSettled)

	blobs, err := storage.NewDiskStore(cfg.UploadDir, "/uploads")
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	h := router.Handlers{
		Auth:        handler.NewAuthHandler(sessions, users),
		Marketplace: handler.NewMarketplaceHandler(listings, cards, settlement, blobs),
		Cards:       handler.NewCardHandler(cards, listings),
		Trades:      handler.NewTradeHandler(settlement, trades),
	}

	// Redis backs the auth rate limiter and the public response cache.
	// Both degrade to pass-through when it is unreachable.
	rdb := config.NewRedisClient()
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	// Trade audit log consumer; runs until the process exits.
	go func() {
		if err := queue.StartTradeConsumer(); err != nil {
			log.Printf("queue: consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, cfg, h, limit, cache)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
