package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/IA-Academy-Team/checkout-service/auth"
	"github.com/IA-Academy-Team/checkout-service/checkout"
	"github.com/IA-Academy-Team/checkout-service/clients"
	commonerrors "github.com/IA-Academy-Team/checkout-service/common/errors"
	"github.com/IA-Academy-Team/checkout-service/common/logger"
	commonmw "github.com/IA-Academy-Team/checkout-service/common/middleware"
	"github.com/IA-Academy-Team/checkout-service/config"
	"github.com/IA-Academy-Team/checkout-service/controllers"
	"github.com/IA-Academy-Team/checkout-service/database"
	"github.com/IA-Academy-Team/checkout-service/kafka"
	"github.com/IA-Academy-Team/checkout-service/metrics"
	"github.com/IA-Academy-Team/checkout-service/models"
	aws_pkg "github.com/IA-Academy-Team/checkout-service/pkg/aws"
	"github.com/IA-Academy-Team/checkout-service/providers"
	"github.com/IA-Academy-Team/checkout-service/repository"
	"github.com/IA-Academy-Team/checkout-service/routes"
	servicepkg "github.com/IA-Academy-Team/checkout-service/services"
)

const (
	serviceName  = "checkout-service"
	referenceTTL = 7 * 24 * time.Hour
)

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Logger, teed into CloudWatch Logs when enabled
	cwLogs, cwErr := aws_pkg.NewCloudWatchLogsClient(ctx, serviceName)
	var zlog *zap.Logger
	if cwErr == nil && cwLogs.IsEnabled() {
		zlog = logger.InitializeWithWriter(cfg.Environment, cwLogs)
	} else {
		zlog = logger.Initialize(cfg.Environment)
	}
	defer zlog.Sync() //nolint:errcheck
	if cwErr != nil {
		zlog.Warn("CloudWatch Logs unavailable", zap.Error(cwErr))
	}

	cwMetrics, err := aws_pkg.NewMetricsClient(ctx)
	if err != nil {
		zlog.Warn("CloudWatch metrics unavailable", zap.Error(err))
	}

	// Attempt ledger
	var attemptRepo repository.AttemptRepository
	if cfg.LedgerEnabled() {
		db, err := database.ConnectPostgres(ctx, cfg.PostgresDSN(), zlog, &models.CheckoutAttempt{})
		if err != nil {
			zlog.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer database.Close(db) //nolint:errcheck
		attemptRepo = repository.NewGormAttemptRepository(db)
	} else {
		zlog.Warn("POSTGRES_HOST not set, attempt ledger disabled")
	}

	// Reference reservations
	var references checkout.ReferenceStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zlog.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close() //nolint:errcheck
		references = servicepkg.NewRedisReferenceStore(rdb, referenceTTL)
	} else {
		zlog.Warn("REDIS_ADDR not set, references are reserved in memory")
	}

	// Outcome events
	var events servicepkg.EventPublisher
	switch cfg.EventsSink {
	case config.SinkSNS:
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			zlog.Fatal("AWS config unavailable for SNS events", zap.Error(err))
		}
		events = servicepkg.NewSNSEventPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.SNSTopicARN)
	case config.SinkKafka:
		producer := kafka.NewCheckoutEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic, zlog)
		defer producer.Close() //nolint:errcheck
		events = producer
	}

	// Provider and DI chain
	provider := providers.NewWompiCheckout(cfg.WompiCheckoutURL, cfg.WompiProductionAPI, cfg.WompiSandboxAPI, cfg.BackendTimeout, zlog)
	scripts := providers.NewScriptRegistry(provider, cfg.BackendTimeout, cfg.ScriptProbeInterval, zlog)
	scripts.StartProbe(ctx, cfg.WompiScriptURL, cfg.ScriptProbeInterval)

	tokens := auth.NewTokenService(cfg.SessionSecret, cfg.SessionTTL)
	sessionService := servicepkg.NewSessionService(servicepkg.SessionOptions{
		PublicKey:     cfg.WompiPublicKey,
		Environment:   cfg.Environment,
		SiteOrigin:    cfg.SiteOrigin,
		SuccessPath:   cfg.SuccessPath,
		ScriptURL:     cfg.WompiScriptURL,
		RedirectDelay: cfg.RedirectDelay,
		PollInterval:  cfg.ScriptPollInterval,
		IdleTimeout:   cfg.SessionIdleTimeout,
	}, servicepkg.SessionDeps{
		Pages:      func() checkout.ScriptHost { return scripts.Page() },
		Provider:   provider,
		Backend:    clients.NewBackendClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout, zlog),
		References: references,
		Tokens:     tokens,
		Repo:       attemptRepo,
		Events:     events,
		CloudWatch: cwMetrics,
		Logger:     zlog,
	})
	go sessionService.RunJanitor(ctx, cfg.SessionIdleTimeout/2)
	checkoutController := controllers.NewCheckoutController(sessionService)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(commonmw.RequestID())
	r.Use(commonmw.RequestLogger(zlog))
	r.Use(commonerrors.ErrorMiddleware(zlog))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(commonmw.RateLimitMiddleware(commonmw.NewRateLimiter(ctx, rate.Limit(10), 20, 10*time.Minute)))
	r.Use(commonmw.Timeout(30 * time.Second))
	r.Use(metrics.Middleware())
	r.Use(commonmw.MetricsMiddleware(cwMetrics, serviceName))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.RegisterCheckoutRoutes(r, checkoutController, tokens)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Server failed", zap.Error(err))
		}
	}()

	zlog.Info("Checkout service started",
		zap.String("port", cfg.Port),
		zap.Bool("ledger", attemptRepo != nil),
		zap.String("events_sink", cfg.EventsSink),
	)
	<-quit
	zlog.Info("Shutting down checkout service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()
	sessionService.Shutdown()
	zlog.Info("Server exited cleanly")
}
