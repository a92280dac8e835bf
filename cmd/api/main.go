package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/careloop/clinic-platform/internal/access"
	"github.com/careloop/clinic-platform/internal/api/router"
	"github.com/careloop/clinic-platform/internal/authn"
	appconfig "github.com/careloop/clinic-platform/internal/config"
	httpmiddleware "github.com/careloop/clinic-platform/internal/http/middleware"
	"github.com/careloop/clinic-platform/internal/identity"
	"github.com/careloop/clinic-platform/internal/notify"
	"github.com/careloop/clinic-platform/internal/observability/metrics"
	"github.com/careloop/clinic-platform/internal/otp"
	"github.com/careloop/clinic-platform/internal/password"
	"github.com/careloop/clinic-platform/internal/posts"
	"github.com/careloop/clinic-platform/internal/staff"
	"github.com/careloop/clinic-platform/internal/tenancy"
	"github.com/careloop/clinic-platform/internal/token"
	"github.com/careloop/clinic-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	var denylist token.Denylist = token.NewRedisDenylist(redisClient)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, token revocation disabled", "error", err)
		denylist = token.NoopDenylist{}
	}

	// Core services
	store := identity.NewPostgresRepository(pool)
	hasher := password.NewHasher(password.DefaultParams())
	otpRepo := otp.NewPostgresRepository(pool)
	otpService := otp.NewService(otpRepo, cfg.OTPTTL, logger)
	tokens := token.NewService([]byte(cfg.TokenSigningKey), cfg.TokenTTL, cfg.RefreshWindow, denylist)
	authMetrics := metrics.NewAuthMetrics(nil)
	limiter := authn.NewRedisLimiter(redisClient, cfg.LoginFailureLimit, cfg.LoginFailureWindow, cfg.OTPResendGap)

	mailer := buildMailer(ctx, cfg, logger)

	gateway := authn.NewGateway(authn.GatewayConfig{
		Store:   store,
		Hasher:  hasher,
		OTP:     otpService,
		Tokens:  tokens,
		Mailer:  mailer,
		Limiter: limiter,
		Metrics: authMetrics,
		Logger:  logger,
		OTPTTL:  cfg.OTPTTL,
	})
	guard := access.NewGuard(tenancy.NewResolver(store), logger).WithMetrics(authMetrics)

	// Background cleanup of terminal OTP records
	sweeper := otp.NewSweeper(otpRepo, cfg.OTPSweepInterval, cfg.OTPSweepGrace, logger)
	go sweeper.Run(ctx)

	if cfg.DevLoginAllowed() {
		logger.Warn("developer login bypass is enabled")
	}

	routerCfg := &router.Config{
		Logger:         logger,
		AuthHandler:    authn.NewHandler(gateway, tokens, store, logger),
		PostsHandler:   posts.NewHandler(posts.NewPostgresRepository(pool), guard, logger),
		StaffHandler:   staff.NewHandler(store, hasher, guard, logger),
		Tokens:         tokens,
		MetricsHandler: promhttp.Handler(),
		CORS: httpmiddleware.CORSPolicy{
			Origins: cfg.CORSAllowedOrigins,
			Headers: cfg.CORSAllowedHeaders,
		},
		RateLimiter:     httpmiddleware.NewRateLimiter(10, 30),
		DevLoginEnabled: cfg.DevLoginAllowed(),
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildMailer picks the delivery backend from MAIL_PROVIDER. The capture
// sender is the development default; codes then only appear in logs.
func buildMailer(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.MailProvider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			return sender
		}
		logger.Warn("sendgrid selected but not configured, falling back to capture sender")
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Warn("failed to load AWS config, falling back to capture sender", "error", err)
			break
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
		if sender != nil {
			return sender
		}
	}
	return notify.NewCaptureSender(logger)
}
