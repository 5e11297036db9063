// Package main is the entry point for the authentication decision service:
// risk assessment, adaptive policy selection, stepwise challenge
// verification, and session issuance
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stepgate/stepgate/internal/api"
	"github.com/stepgate/stepgate/internal/audit"
	"github.com/stepgate/stepgate/internal/common/config"
	"github.com/stepgate/stepgate/internal/common/database"
	"github.com/stepgate/stepgate/internal/common/logger"
	"github.com/stepgate/stepgate/internal/engine"
	"github.com/stepgate/stepgate/internal/metrics"
	"github.com/stepgate/stepgate/internal/mfa"
	"github.com/stepgate/stepgate/internal/middleware"
	"github.com/stepgate/stepgate/internal/policy"
	"github.com/stepgate/stepgate/internal/profile"
	"github.com/stepgate/stepgate/internal/risk"
	"github.com/stepgate/stepgate/internal/server"
	"github.com/stepgate/stepgate/internal/session"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	log := logger.New()
	defer log.Sync()

	log.Info("Starting authn service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	cfg, err := config.Load("authn-service")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Profile baselines and the async update pipeline
	profileStore := profile.NewPostgresStore(db.Pool, log)
	updater := profile.NewUpdater(profileStore, cfg.ProfileUpdateWorkers, log)

	// Risk aggregation over the standard signal set
	aggregator, err := risk.NewAggregator(risk.DefaultSignals(cfg.Risk, profileStore, log), cfg.Risk, log)
	if err != nil {
		log.Fatal("Failed to build risk aggregator", zap.Error(err))
	}

	// Method catalog and policy table
	catalog := mfa.DefaultCatalog()
	selector, err := policy.NewSelector(policy.DefaultPolicies(cfg.Risk, cfg.Policy), catalog, log)
	if err != nil {
		log.Fatal("Failed to build policy selector", zap.Error(err))
	}

	// Verification capabilities
	directory := mfa.NewPostgresDirectory(db.Pool, log)
	fido2, err := mfa.NewWebAuthnVerifier(
		cfg.WebAuthn.RPID, cfg.ServiceName, cfg.WebAuthn.RPOrigins,
		directory, redisClient.Client, log)
	if err != nil {
		log.Fatal("Failed to build webauthn verifier", zap.Error(err))
	}

	var push mfa.PushTransport = mfa.DisabledPushTransport{}
	if cfg.Push.GatewayURL != "" {
		push = mfa.NewHTTPPushTransport(cfg.Push, log)
	} else {
		log.Warn("Push gateway not configured, push challenges will fail closed")
	}

	codeTransports := map[string]mfa.CodeTransport{}
	if cfg.Twilio.AccountSID != "" {
		codeTransports[mfa.MethodSMS] = mfa.NewTwilioTransport(cfg.Twilio, log)
	} else {
		codeTransports[mfa.MethodSMS] = mfa.NewLogTransport(log)
	}
	if cfg.SMTP.Host != "" {
		codeTransports[mfa.MethodEmail] = mfa.NewSMTPTransport(cfg.SMTP, log)
	} else {
		codeTransports[mfa.MethodEmail] = mfa.NewLogTransport(log)
	}

	var trail audit.Recorder = audit.Discard{}
	if cfg.AuditTrailPath != "" {
		secret := cfg.AuditTrailSecret
		if secret == "" {
			secret = cfg.JWTSecret
		}
		trail, err = audit.NewTrail(cfg.AuditTrailPath, []byte(secret))
		if err != nil {
			log.Fatal("Failed to open decision trail", zap.Error(err))
		}
	}

	issuer := engine.NewIssuer(
		[]byte(cfg.JWTSecret), cfg.TokenIssuer, cfg.Policy.BaselinePermissions,
		updater, log)

	eng := engine.NewEngine(engine.Deps{
		Store:          session.NewRedisStore(redisClient.Client, cfg.SessionTTL, log),
		Risk:           aggregator,
		Policies:       selector,
		Catalog:        catalog,
		Directory:      directory,
		Passwords:      mfa.NewBcryptVerifier(directory),
		TOTP:           mfa.NewTOTPVerifier(directory, redisClient.Client, log),
		Biometrics:     mfa.NewThresholdMatcher(mfa.HashMatcher{}, directory, 0.8),
		FIDO2:          fido2,
		Push:           push,
		Continuous:     mfa.StaticMonitor{Decision: true},
		CodeTransports: codeTransports,
		Issuer:         issuer,
		Audit:          trail,
		SessionWindow:  cfg.SessionTTL,
	}, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(logger.GinMiddleware(log))
	router.Use(metrics.GinMiddleware(cfg.ServiceName))
	router.Use(middleware.RateLimit(redisClient.Client, middleware.RateLimitConfig{
		Requests:     cfg.RateLimit.Requests,
		Window:       cfg.RateLimit.Window,
		AuthRequests: cfg.RateLimit.AuthRequests,
		AuthWindow:   cfg.RateLimit.AuthWindow,
	}, log))

	api.NewHandler(eng, log).RegisterRoutes(router)

	router.GET("/ready", func(c *gin.Context) {
		status := gin.H{"status": "ready", "postgres": "ok", "redis": "ok"}
		if err := db.Ping(c.Request.Context()); err != nil {
			status["status"] = "not ready"
			status["postgres"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		if err := redisClient.Client.Ping(c.Request.Context()).Err(); err != nil {
			status["redis"] = "unhealthy"
		}
		c.JSON(http.StatusOK, status)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	shutdown := server.New(server.Config{
		Server: httpServer,
		Logger: log,
	})
	shutdown.AddShutdownable(updater)
	shutdown.Start()
}
