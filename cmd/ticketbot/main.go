package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/akmatori/ticketbot/internal/config"
	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/events"
	"github.com/akmatori/ticketbot/internal/handlers"
	"github.com/akmatori/ticketbot/internal/jobs"
	"github.com/akmatori/ticketbot/internal/lock"
	"github.com/akmatori/ticketbot/internal/middleware"
	"github.com/akmatori/ticketbot/internal/notify"
	"github.com/akmatori/ticketbot/internal/observability"
	"github.com/akmatori/ticketbot/internal/registry"
	"github.com/akmatori/ticketbot/internal/services"
	slackutil "github.com/akmatori/ticketbot/internal/slack"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	zap.ReplaceGlobals(zlog)

	zlog.Info("Starting ticket bot")

	if cfg.AdminPassword == "" {
		zlog.Fatal("ADMIN_PASSWORD is not set")
	}
	if !cfg.Slack.IsConfigured() {
		zlog.Fatal("SLACK_BOT_TOKEN and SLACK_APP_TOKEN must be set")
	}
	if cfg.Slack.SourceChannel == "" {
		zlog.Fatal("SLACK_SOURCE_CHANNEL must be set")
	}

	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		zlog.Fatal("Failed to hash admin password", zap.Error(err))
	}
	jwtAuth := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/metrics",
			"/auth/login",
		},
	}, zlog.Named("auth"))

	// Database
	db, err := database.Connect(cfg.DatabaseURL, logger.Warn, zlog)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() { _ = database.Close(db) }()
	if err := database.AutoMigrate(db, zlog); err != nil {
		zlog.Fatal("Failed to run database migrations", zap.Error(err))
	}

	reg, err := registry.Load(cfg.RegistryFile)
	if err != nil {
		zlog.Fatal("Failed to load registry", zap.String("path", cfg.RegistryFile), zap.Error(err))
	}
	zlog.Info("Registry loaded",
		zap.Int("teams", len(reg.Teams())),
		zap.Int("tags", len(reg.Tags())),
		zap.Int("impacts", len(reg.Impacts())))

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(promRegistry)
	if err != nil {
		zlog.Fatal("Failed to register metrics", zap.Error(err))
	}

	httpHandler := handlers.NewHTTPHandler(promRegistry, zlog.Named("http"))
	httpHandler.AddCheck("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled() {
		redisClient := lock.NewRedisClient(lock.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, zlog)
		defer func() { _ = redisClient.Close() }()
		locker = lock.NewRedisLocker(redisClient, "ticketbot:lock:", zlog.Named("lock"))
		httpHandler.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		zlog.Info("Distributed ticket locks enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// Slack
	slackManager := slackutil.NewManager(cfg.Slack, zlog.Named("slack"))
	httpHandler.AddCheck("slack", slackManager.Healthy)
	client, err := slackManager.Connect()
	if err != nil {
		zlog.Fatal("Failed to create Slack client", zap.Error(err))
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	auth, err := client.AuthTestContext(startupCtx)
	if err != nil {
		zlog.Fatal("Slack auth test failed", zap.Error(err))
	}
	resolver := slackutil.NewChannelResolver(client, zlog.Named("channels"))
	sourceChannel, err := resolver.ResolveChannel(startupCtx, cfg.Slack.SourceChannel)
	if err != nil {
		zlog.Fatal("Failed to resolve source channel", zap.String("channel", cfg.Slack.SourceChannel), zap.Error(err))
	}
	var escalationChannel string
	if cfg.Slack.EscalationChannel != "" {
		escalationChannel, err = resolver.ResolveChannel(startupCtx, cfg.Slack.EscalationChannel)
		if err != nil {
			zlog.Fatal("Failed to resolve escalation channel", zap.String("channel", cfg.Slack.EscalationChannel), zap.Error(err))
		}
	}
	cancelStartup()
	zlog.Info("Slack identity resolved",
		zap.String("bot_user_id", auth.UserID),
		zap.String("source_channel", sourceChannel),
		zap.String("escalation_channel", escalationChannel))

	gateway := slackutil.NewGateway(client, cfg.Tickets.ClosedReaction, zlog.Named("gateway"))

	// Ticket engine
	ticketStore := database.NewTicketStore(db)
	escalationStore := database.NewEscalationStore(db)
	queryStore := database.NewQueryStore(db)

	dispatcher := notify.NewDispatcher(cfg.Tickets.GatewayTimeout, zlog.Named("notify"))

	synchronizer := services.NewFormSynchronizer(services.FormSynchronizerDeps{
		Tickets:           ticketStore,
		Escalations:       escalationStore,
		Queries:           queryStore,
		Gateway:           gateway,
		Locker:            locker,
		Registry:          reg,
		Metrics:           metrics,
		Logger:            zlog.Named("forms"),
		Timeout:           cfg.Tickets.GatewayTimeout,
		LookupLimit:       cfg.Tickets.DisplayLookupConcurrency,
		AssignmentEnabled: cfg.Tickets.AssignmentEnabled,
	})
	reflector := services.NewAsyncReflector(synchronizer,
		cfg.Tickets.FormWorkers,
		cfg.Tickets.FormQueueSize,
		2*cfg.Tickets.GatewayTimeout,
		metrics,
		zlog.Named("reflector"))

	escalationService := services.NewEscalationService(services.EscalationServiceDeps{
		Tickets:     ticketStore,
		Escalations: escalationStore,
		Locker:      locker,
		Reflector:   reflector,
		Publisher:   dispatcher,
		Registry:    reg,
		Metrics:     metrics,
		Logger:      zlog.Named("escalations"),
	})
	ticketService := services.NewTicketService(services.TicketServiceDeps{
		Tickets:     ticketStore,
		Queries:     queryStore,
		Escalations: escalationService,
		Locker:      locker,
		Reflector:   reflector,
		Publisher:   dispatcher,
		Registry:    reg,
		Policy: services.TicketPolicy{
			OpenReaction:      cfg.Tickets.OpenReaction,
			AssignmentEnabled: cfg.Tickets.AssignmentEnabled,
		},
		Metrics: metrics,
		Logger:  zlog.Named("tickets"),
	})

	var rating *services.RatingRequester
	if cfg.Tickets.RatingEnabled {
		rating = services.NewRatingRequester(ticketStore, gateway, zlog.Named("rating"))
	}
	announcer := services.NewEscalationAnnouncer(escalationStore, gateway, reg, escalationChannel, zlog.Named("announcer"))
	services.RegisterListeners(dispatcher, rating, announcer)

	slackHandler := handlers.NewSlackHandler(handlers.SlackHandlerDeps{
		Normalizer:   events.NewNormalizer(sourceChannel, zlog.Named("normalizer"), metrics),
		Tickets:      ticketService,
		Views:        client,
		Threads:      gateway,
		Messages:     gateway,
		Registry:     reg,
		OpenReaction: cfg.Tickets.OpenReaction,
		Logger:       zlog.Named("slack_handler"),
	})
	slackHandler.SetBotUserID(auth.UserID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slackManager.SetEventHandler(func(socketClient *socketmode.Client) {
		slackHandler.HandleSocketMode(ctx, socketClient)
	})

	// Stale sweep
	staleMonitor := jobs.NewStaleMonitor(ticketStore, ticketService, locker, cfg.Tickets.StaleAfter, zlog.Named("stale"))
	if err := staleMonitor.Schedule(cfg.Tickets.StaleSweepSchedule); err != nil {
		zlog.Fatal("Failed to schedule stale sweep", zap.Error(err))
	}

	// HTTP server
	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuth, zlog.Named("auth")).SetupRoutes(mux)
	handlers.NewTicketAPIHandler(ticketService, escalationService, zlog.Named("api")).SetupRoutes(mux)

	handler := middleware.RequestIDMiddleware(middleware.AccessLog(zlog.Named("access"))(jwtAuth.Wrap(mux)))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("Starting HTTP server", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	if err := slackManager.Start(ctx); err != nil {
		zlog.Fatal("Failed to start Slack Socket Mode", zap.Error(err))
	}
	staleMonitor.Start()

	zlog.Info("Bot is running",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.HTTPPort)),
		zap.String("api", fmt.Sprintf("http://localhost:%d/api", cfg.HTTPPort)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	zlog.Info("Received shutdown signal, cleaning up", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	// Stop intake first, then drain the workers that act on it
	slackManager.Stop(shutdownCtx)
	cancel()
	staleMonitor.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("Error shutting down HTTP server", zap.Error(err))
	}

	reflector.Close()
	dispatcher.Wait()
	zlog.Info("Shutdown complete")
}
