// Package main is the entry point for the orchestrator service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgeview/orchestrator/internal/api"
	"github.com/forgeview/orchestrator/internal/artifact"
	"github.com/forgeview/orchestrator/internal/auth"
	"github.com/forgeview/orchestrator/internal/build"
	"github.com/forgeview/orchestrator/internal/clock"
	"github.com/forgeview/orchestrator/internal/config"
	"github.com/forgeview/orchestrator/internal/coordinator"
	"github.com/forgeview/orchestrator/internal/genai"
	"github.com/forgeview/orchestrator/internal/history"
	"github.com/forgeview/orchestrator/internal/hub"
	"github.com/forgeview/orchestrator/internal/planner"
	"github.com/forgeview/orchestrator/internal/runtime"
	"github.com/forgeview/orchestrator/internal/sandbox"
	"github.com/forgeview/orchestrator/internal/tracing"
	"github.com/forgeview/orchestrator/internal/validator"
)

// plannerTimeout bounds a single planning request. A planner slower
// than this fails the build.
const plannerTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var logHandler slog.Handler
	if cfg.LogFormat == "json" {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting orchestrator",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
		slog.String("sandbox_runtime", cfg.SandboxRuntime),
	)

	// Initialize tracing
	tracingProvider, err := tracing.Init(context.Background(), &tracing.Config{
		ServiceName:    "forgeview-orchestrator",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TraceSampleRate,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		// Continue without tracing
	}

	// Initialize event history based on configuration
	var store history.Store
	switch cfg.HistoryStoreType {
	case "redis":
		redisStore, err := history.NewRedisStore(&history.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.HistoryTTL,
			MaxLen:   cfg.EventMaxLen,
		})
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory store", "error", err)
			store = history.NewMemoryStore(&history.Config{
				EventMaxLen: cfg.EventMaxLen,
				TTL:         cfg.HistoryTTL,
			})
		} else {
			store = redisStore
			logger.Info("using Redis event history", slog.String("url", cfg.RedisURL))
		}
	default:
		store = history.NewMemoryStore(&history.Config{
			EventMaxLen: cfg.EventMaxLen,
			TTL:         cfg.HistoryTTL,
		})
		logger.Info("using in-memory event history")
	}
	defer store.Close()

	// Message bus and graph registry
	coord := coordinator.New(store, logger)

	// Planner and generation collaborators
	plan := planner.New(cfg.PlannerURL, plannerTimeout, logger)
	gen := genai.NewClient(genai.Config{
		APIBase: cfg.GenAPIBase,
		APIKey:  cfg.GenAPIKey,
		Model:   cfg.GenModel,
		Timeout: cfg.GenTimeout,
	})

	// Sandbox runtime provider. A nil provider sends sandboxes straight
	// to static preview.
	var provider runtime.Provider
	switch cfg.SandboxRuntime {
	case "k8s":
		k8sProvider, err := runtime.NewKubernetesProvider(runtime.K8sConfig{
			Namespace:  cfg.K8sNamespace,
			InCluster:  cfg.K8sInCluster,
			Kubeconfig: cfg.K8sKubeconfig,
			Image:      cfg.SandboxImage,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize kubernetes runtime, sandboxes fall back to static preview", "error", err)
		} else {
			provider = k8sProvider
			logger.Info("using kubernetes sandbox runtime", slog.String("namespace", cfg.K8sNamespace))
		}
	case "none":
	default:
		provider = runtime.NewLocalProvider(cfg.SandboxWorkdir, logger)
		logger.Info("using local sandbox runtime")
	}

	// Build manager owns the single active build
	builds := build.New(coord, clock.NewReal(), plan, gen, provider, runtime.DefaultSlot, build.Config{
		AppName:     cfg.DefaultAppName,
		Framework:   cfg.DefaultFramework,
		SettleDelay: cfg.SettleDelay,
		TimeScale:   cfg.StageTimeScale,
		Stagger:     cfg.PipelineStagger,
		SandboxMode: "auto",
		Sandbox: sandbox.Config{
			AppName:      cfg.DefaultAppName,
			GraceDelay:   cfg.SandboxGraceDelay,
			ReadyTimeout: cfg.SandboxReadyTimeout,
			InstallCmd:   strings.Join(cfg.SandboxInstallCmd, " "),
			StartCmd:     strings.Join(cfg.SandboxStartCmd, " "),
			Image:        cfg.SandboxImage,
		},
	}, logger)

	// Artifact export
	artifacts, err := artifact.New(&artifact.Config{
		Type:            cfg.ArtifactBackend,
		Endpoint:        cfg.S3Endpoint,
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		UsePathStyle:    cfg.S3UsePathStyle,
		PresignExpiry:   cfg.PresignTTL,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize artifact export", "error", err)
		// Continue without export - the endpoint reports unavailable
		artifacts = nil
	}

	// Initialize validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		// Continue without validator - validation will be basic
		v = nil
	}

	// Authentication: OIDC when configured, static bearer secret otherwise
	var verifier auth.Verifier
	authEnabled := false
	if cfg.OIDCEnabled && cfg.OIDCIssuer != "" {
		oidcProvider, err := auth.NewProvider(context.Background(), &auth.Config{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
		})
		if err != nil {
			logger.Error("failed to initialize OIDC provider, auth disabled", "error", err)
		} else {
			verifier = oidcProvider
			authEnabled = true
			logger.Info("OIDC authentication enabled", slog.String("issuer", cfg.OIDCIssuer))
		}
	} else if cfg.JWTSecret != "" {
		verifier = auth.NewStaticVerifier(cfg.JWTSecret)
		authEnabled = true
		logger.Info("static token authentication enabled")
	}

	authMw := auth.NewMiddleware(verifier, &auth.MiddlewareConfig{
		Enabled:     authEnabled,
		PublicPaths: []string{"/health", "/healthz", "/ready", "/metrics"},
	}, logger)

	rateLimiter := auth.NewPerIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Websocket hub fed by the event history's live feed
	wsHub := hub.NewHubWithConfig(&hub.HubConfig{
		Store:          store,
		Logger:         logger,
		AllowedOrigins: cfg.CORSOrigins,
		AuthValidator: func(r *http.Request) (string, error) {
			claims, err := authMw.VerifyRequest(r)
			if err != nil {
				return "", err
			}
			return claims.Subject, nil
		},
	})
	go wsHub.Run()

	// Initialize API handlers
	handlers := api.NewHandlers(coord, builds, store, v, artifacts, cfg, logger)
	server := api.NewServer(handlers, wsHub.Handler())

	// Middleware chain, outer to inner: tracing, rate limiting, auth.
	// CORS, logging and recovery live on the router itself.
	var handler http.Handler = server.Router()
	handler = authMw.Handler(handler)
	handler = rateLimiter.Handler(handler)
	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "orchestrator",
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	// Stop accepting new websocket connections
	wsHub.Stop()

	// Stop rate limiter cleanup goroutine
	rateLimiter.Stop()

	// Tear down the active build and release any sandbox runtime
	builds.Reset(ctx)

	// Shutdown tracer
	if tracingProvider != nil {
		if err := tracingProvider.Shutdown(ctx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
