package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"coralcrave-auction-service/internal/adapters/auth"
	"coralcrave-auction-service/internal/adapters/broadcaster"
	"coralcrave-auction-service/internal/adapters/db"
	"coralcrave-auction-service/internal/adapters/events"
	"coralcrave-auction-service/internal/adapters/httpapi"
	"coralcrave-auction-service/internal/adapters/memory"
	"coralcrave-auction-service/internal/adapters/redis"
	"coralcrave-auction-service/internal/adapters/scheduler"
	"coralcrave-auction-service/internal/adapters/ws"
	"coralcrave-auction-service/internal/app"
	"coralcrave-auction-service/internal/config"
	"coralcrave-auction-service/internal/ports/outbound"
)

// expiryScheduler is what main needs from either scheduler implementation
type expiryScheduler interface {
	outbound.ExpiryScheduler
	Start()
	Stop()
}

type schedulerBinder interface {
	SetScheduler(scheduler outbound.ExpiryScheduler)
}

// bindScheduler hands expiries to the service and only then starts it, so the
// first poll already sees a service able to re-arm
func bindScheduler(service schedulerBinder, expiries expiryScheduler) {
	service.SetScheduler(expiries)
	expiries.Start()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	initLogging(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().Msg("Starting CoralCrave Auction Service...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openStore(ctx, cfg)
	defer store.Close()

	increments, err := cfg.Auction.Registry()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build increment ladders")
	}

	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(cfg.Redis)
		if err := redis.Ping(ctx, redisClient); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connection established")
	}

	var broadcast outbound.Broadcaster
	if redisClient != nil {
		broadcast = broadcaster.NewRedisBroadcaster(broadcaster.RedisBroadcasterParams{
			RedisClient: redisClient,
			Logger:      log.Logger,
		})
		log.Info().Msg("Redis broadcaster initialized")
	} else {
		broadcast = broadcaster.NewLocalBroadcaster(broadcaster.LocalBroadcasterParams{Logger: log.Logger})
		log.Info().Msg("In-process broadcaster initialized")
	}

	orders := openOrderPublisher(ctx, cfg)
	defer orders.Close()

	// Create business services
	auctionService := app.NewAuctionService(app.AuctionServiceParams{
		SessionRepo: store.Sessions(),
		ItemRepo:    store.Items(),
		Broadcaster: broadcast,
		Orders:      orders,
		Increments:  increments,
		Settings: app.AuctionSettings{
			DefaultDuration:   cfg.Auction.DefaultDuration,
			SpeedDuration:     cfg.Auction.SpeedDuration,
			MaxCommitAttempts: cfg.Auction.MaxCommitAttempts,
		},
		Logger: log.Logger,
	})

	// The scheduler calls back into the auction service, so it is wired after construction
	var expiries expiryScheduler
	if redisClient != nil {
		redisScheduler := scheduler.NewAuctionScheduler(scheduler.AuctionSchedulerParams{
			RedisClient:  redisClient,
			Handler:      auctionService,
			PollInterval: cfg.Redis.PollInterval,
			Logger:       log.Logger,
		})
		expiries = redisScheduler
	} else {
		expiries = scheduler.NewLocalScheduler(scheduler.LocalSchedulerParams{
			Handler: auctionService,
			Logger:  log.Logger,
		})
	}
	bindScheduler(auctionService, expiries)
	log.Info().Msg("Auction scheduler started")

	bidService := app.NewBidService(app.BidServiceParams{
		SessionRepo: store.Sessions(),
		ItemRepo:    store.Items(),
		BidRepo:     store.Bids(),
		ProxyRepo:   store.ProxyBids(),
		Broadcaster: broadcast,
		Scheduler:   expiries,
		Increments:  increments,
		Settings: app.BidSettings{
			MaxCommitAttempts: cfg.Auction.MaxCommitAttempts,
			MaxAutoBidRounds:  cfg.Auction.MaxAutoBidRounds,
			AntiSnipe: app.AntiSnipeSettings{
				Enabled:       cfg.Auction.AntiSnipeEnabled,
				Window:        cfg.Auction.AntiSnipeWindow,
				Extension:     cfg.Auction.AntiSnipeExtension,
				MaxExtensions: cfg.Auction.AntiSnipeMaxExtensions,
			},
		},
		Logger: log.Logger,
	})

	log.Info().Msg("Business services initialized")

	// Items that were running when the previous process stopped need their expiry again
	armed, err := auctionService.RearmRunning(ctx)
	if err != nil {
		log.Error().Err(err).Int("armed", armed).Msg("Failed to re-arm running auctions")
	} else if armed > 0 {
		log.Info().Int("armed", armed).Msg("Re-armed running auctions")
	}

	verifier := auth.NewVerifier(cfg.Auth)

	wsHandler := ws.NewHandler(ws.WsHandlerParams{
		AuctionService: auctionService,
		BidService:     bidService,
		Broadcaster:    broadcast,
		Verifier:       verifier,
		Settings:       cfg.WebSocket,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RecentBids:     cfg.Auction.ProjectorRecentBids,
		Logger:         log.Logger,
	})

	server := httpapi.NewServer(httpapi.ServerParams{
		Address: cfg.Server.Address(),
		Handler: httpapi.NewRouter(httpapi.RouterParams{
			AuctionService: auctionService,
			BidService:     bidService,
			Verifier:       verifier,
			WebSocket:      http.HandlerFunc(wsHandler.HandleWebSocket),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         log.Logger,
		}),
		Logger: log.Logger,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start HTTP server")
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping HTTP server")
	}

	expiries.Stop()
	log.Info().Msg("Auction scheduler stopped")

	if err := broadcast.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing broadcaster")
	}

	log.Info().Msg("Graceful shutdown completed")
}

func openStore(ctx context.Context, cfg *config.Config) outbound.Store {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory store; state is lost on restart")
		return memory.NewStore()
	}

	dbConn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	log.Info().Msg("Database connection established")

	repos := db.NewRepositoryFactory(dbConn)
	if err := repos.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database schema")
	}
	log.Info().Msg("Database repositories initialized")
	return repos
}

func openOrderPublisher(ctx context.Context, cfg *config.Config) outbound.OrderPublisher {
	if !cfg.NATS.Enabled {
		return events.NewLogPublisher(log.Logger)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	publisher, err := events.NewJetStreamPublisher(connectCtx, events.JetStreamPublisherParams{
		Config: cfg.NATS,
		Logger: log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	log.Info().Str("stream", cfg.NATS.Stream).Msg("Order publisher initialized")
	return publisher
}

func initLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.DefaultContextLogger = &log.Logger
}
