package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serplus-labs/serledger/internal/accounts"
	"github.com/serplus-labs/serledger/internal/collectible"
	"github.com/serplus-labs/serledger/internal/health"
	"github.com/serplus-labs/serledger/internal/identity"
	"github.com/serplus-labs/serledger/internal/ledger"
	"github.com/serplus-labs/serledger/internal/server/handler"
	"github.com/serplus-labs/serledger/internal/webhooks"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("serledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("serledger")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.base_url", "")
	viper.SetDefault("ledger.path", "data/ledger.ndjson")
	viper.SetDefault("ledger.repair_torn_tail", false)
	viper.SetDefault("ledger.verify_interval", "10m")
	viper.SetDefault("database.url", "")
	viper.SetDefault("collectibles.path", "data/collectibles.json")
	viper.SetDefault("accounts.path", "data/accounts.json")
	viper.SetDefault("webhooks.path", "data/webhooks.json")
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl_seconds", 86400)
	viper.SetDefault("auth.operator_secret_bcrypt", "")
	viper.SetDefault("auth.operator_name", "programmerONE")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Asset policies ───────────────────────────────────────────────────────
	var policies []ledger.AssetPolicy
	if err := viper.UnmarshalKey("assets", &policies); err != nil {
		return fmt.Errorf("parse asset policies: %w", err)
	}
	if len(policies) == 0 {
		// Sandbox defaults: SER and COMP share the same cap semantics.
		policies = []ledger.AssetPolicy{
			{Symbol: "SER", MaxSupply: 100_000_000, Decimals: 2},
			{Symbol: "COMP", MaxSupply: 100_000_000, Decimals: 2},
		}
		logger.Warn("no assets configured, using sandbox defaults",
			zap.Strings("assets", []string{"SER", "COMP"}))
	}

	// ── Ledger store ─────────────────────────────────────────────────────────
	var store ledger.Store
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("ledger store: postgres")
		store = ledger.NewPostgresStore(pool, logger)
	} else {
		path := viper.GetString("ledger.path")
		var opts []ledger.FileStoreOption
		if viper.GetBool("ledger.repair_torn_tail") {
			opts = append(opts, ledger.WithTornTailRepair())
		}
		fs, err := ledger.OpenFileStore(path, logger, opts...)
		if err != nil {
			return fmt.Errorf("open ledger file: %w", err)
		}
		defer fs.Close()
		logger.Info("ledger store: file", zap.String("path", path))
		store = fs
	}

	// ── Mutation engine ──────────────────────────────────────────────────────
	led, err := ledger.Open(context.Background(), store, logger, ledger.WithAssets(policies...))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	for _, p := range policies {
		handler.SetSupplyGauge(p.Symbol, led.Supply(p.Symbol))
	}

	// ── Collaborator registries ──────────────────────────────────────────────
	accts, err := accounts.Open(viper.GetString("accounts.path"))
	if err != nil {
		return fmt.Errorf("open account registry: %w", err)
	}
	collectibles, err := collectible.Open(viper.GetString("collectibles.path"), led, logger)
	if err != nil {
		return fmt.Errorf("open collectible registry: %w", err)
	}

	// ── Webhook event fanout ─────────────────────────────────────────────────
	webhookStore, err := webhooks.OpenStore(viper.GetString("webhooks.path"))
	if err != nil {
		return fmt.Errorf("open webhook store: %w", err)
	}
	events := webhooks.NewService(webhookStore, logger)
	events.SetMetricsRecorder(handler.RecordWebhookDelivery)

	// ── Auth ─────────────────────────────────────────────────────────────────
	baseURL := viper.GetString("server.base_url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", viper.GetInt("server.port"))
	}

	var tokens *identity.TokenIssuer
	if secret := viper.GetString("auth.jwt_secret"); secret != "" {
		ttl := time.Duration(viper.GetInt("auth.token_ttl_seconds")) * time.Second
		tokens = identity.NewTokenIssuer([]byte(secret), baseURL, ttl)
	}
	static := identity.StaticSecret{
		Hash:  viper.GetString("auth.operator_secret_bcrypt"),
		Actor: viper.GetString("auth.operator_name"),
	}
	if tokens == nil && static.Hash == "" {
		return errors.New("no auth configured: set auth.jwt_secret or auth.operator_secret_bcrypt")
	}
	authed := handler.RequireOperator(tokens, static, logger)

	ledgerHandler := handler.NewLedgerHandler(led, accts, logger)
	ledgerHandler.SetEventDispatcher(events)
	allocHandler := handler.NewAllocationHandler(led, logger)
	nftHandler := handler.NewCollectibleHandler(collectibles, logger)
	nftHandler.SetEventDispatcher(events)
	webhookHandler := webhooks.NewHandler(events, handler.ActorFrom, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "tail": led.Tail()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	ledgerHandler.Register(v1, authed)
	allocHandler.Register(v1)
	nftHandler.Register(v1, authed)
	webhookHandler.Register(v1, authed)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// ── Background: periodic full chain verification ─────────────────────────
	stopChecker := make(chan struct{})
	verifyInterval, _ := time.ParseDuration(viper.GetString("ledger.verify_interval"))
	if verifyInterval > 0 {
		checker := health.New(led, health.Config{CheckInterval: verifyInterval}, logger)
		checker.SetDispatch(events.Dispatch)
		checker.SetMetricsRecord(handler.RecordIntegrityCheck)
		go checker.Start(stopChecker)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serledgerd listening",
			zap.Int("port", viper.GetInt("server.port")),
			zap.Uint64("ledger_tail", led.Tail()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	close(stopChecker)
	logger.Info("shutting down serledgerd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("serledgerd stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
