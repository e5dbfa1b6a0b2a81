package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/accorsirodrigo/fastbot/internal/config"
	"github.com/accorsirodrigo/fastbot/internal/db"
	"github.com/accorsirodrigo/fastbot/internal/discord"
	apihttp "github.com/accorsirodrigo/fastbot/internal/http"
	"github.com/accorsirodrigo/fastbot/internal/metrics"
	"github.com/accorsirodrigo/fastbot/internal/repository"
	"github.com/accorsirodrigo/fastbot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.IsProduction() {
		logger, _ = zap.NewProduction()
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	if !cfg.DiscordConfigured() {
		logger.Warn("discord oauth credentials missing; callbacks will fail",
			zap.Bool("client_id", cfg.DiscordClientID != ""),
			zap.Bool("client_secret", cfg.DiscordClientSecret != ""),
			zap.Bool("redirect_uri", cfg.DiscordRedirectURI != ""),
		)
	}
	if cfg.JWTSecret == config.DefaultJWTSecret {
		if cfg.IsProduction() {
			logger.Warn("JWT_SECRET is the default value in production")
		} else {
			logger.Info("using default JWT_SECRET")
		}
	}

	var (
		users       repository.UserRepository
		states      service.StateGuard
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			states = service.NewRedisStateGuard(redisClient, cfg.StateTTL)
		}
		cancel()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	switch {
	case cfg.DatabaseURL != "":
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		users = repository.NewPgUserRepository(pool)
		logger.Info("user store", zap.String("backend", "postgres"))
	case redisClient != nil:
		users = repository.NewRedisUserRepository(redisClient)
		logger.Info("user store", zap.String("backend", "redis"))
	default:
		users = repository.NewMemoryUserRepository()
		logger.Info("user store", zap.String("backend", "memory"))
	}
	if states == nil {
		guard := service.NewMemoryStateGuard(cfg.StateTTL)
		defer guard.Stop()
		states = guard
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	discordClient := discord.NewClient(discord.Config{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		RedirectURI:  cfg.DiscordRedirectURI,
		AuthorizeURL: cfg.DiscordAuthorizeURL,
		TokenURL:     cfg.DiscordTokenURL,
		UserURL:      cfg.DiscordUserURL,
		Timeout:      cfg.DiscordTimeout,
	}, logger)
	tokens := service.NewSessionTokenService(cfg.JWTSecret, cfg.JWTTTL)
	authSvc := service.NewAuthService(logger, discordClient, users, tokens, states, collector, cfg.FrontendURL)

	limiter := apihttp.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	defer limiter.Stop()

	router := apihttp.NewRouter(logger, apihttp.RouterConfig{
		FrontendURL:    cfg.FrontendURL,
		Development:    cfg.AppEnv == config.EnvDevelopment,
		Verifier:       tokens,
		RateLimiter:    limiter,
		Metrics:        metrics.Handler(reg),
		TrustedProxies: cfg.TrustedProxies,
	}, apihttp.NewAuthHandler(logger, authSvc), apihttp.NewHandlers(logger, authSvc, cfg.IsProduction()))

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("env", cfg.AppEnv),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.String("callback", "/auth/discord/callback"),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}
