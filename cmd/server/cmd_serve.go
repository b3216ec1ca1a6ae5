package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/glindsay/resume-assistant/internal/agent"
	"github.com/glindsay/resume-assistant/internal/api"
	"github.com/glindsay/resume-assistant/internal/audit"
	"github.com/glindsay/resume-assistant/internal/config"
	"github.com/glindsay/resume-assistant/internal/health"
	"github.com/glindsay/resume-assistant/internal/identity"
	"github.com/glindsay/resume-assistant/internal/logging"
	"github.com/glindsay/resume-assistant/internal/middleware"
	"github.com/glindsay/resume-assistant/internal/moderation"
	"github.com/glindsay/resume-assistant/internal/store"
	"github.com/glindsay/resume-assistant/internal/tokencipher"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		RunE:  runServe,
	}
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(cmd *cobra.Command, _ []string) error {
	defer memguard.Purge()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		Production: cfg.IsProduction(),
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintln(os.Stderr, "failed to close log files:", closeErr)
		}
	}()
	slog.SetDefault(logger.Logger)

	slog.Info("Starting server", "port", cfg.Port, "env", cfg.Env, "trust_proxy", cfg.TrustProxy)

	cookieCipher, err := newCookieCipher(cfg)
	if err != nil {
		return err
	}

	// Audit store.
	var auditLog audit.Logger = audit.Noop{}
	var healthRepo api.Pinger
	if cfg.Audit.Enabled {
		repo, err := store.NewSQLite(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("initialize audit database: %w", err)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := repo.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("audit database health check: %w", err)
		}
		slog.Info("Audit database connected", "path", cfg.Audit.DBPath)

		queue := audit.NewQueueLogger(repo, cfg.Audit.QueueSize, logger.Logger)
		defer func() {
			if closeErr := queue.Close(); closeErr != nil {
				slog.Error("Failed to drain audit queue", "error", closeErr)
			}
		}()
		auditLog = queue
		healthRepo = repo
	} else {
		slog.Info("Audit logging disabled")
	}

	// Remote assistant.
	client := agent.NewOpenAIRemote(agent.RemoteConfig{
		APIKey:         cfg.OpenAI.APIKey,
		OrganizationID: cfg.OpenAI.OrganizationID,
		ProjectID:      cfg.OpenAI.ProjectID,
		BaseURL:        cfg.OpenAI.BaseURL,
		RequestTimeout: cfg.OpenAI.RequestTimeout,
	})
	service := agent.NewService(client, agent.ConfigFromApp(cfg), auditLog, logger.Logger)

	var moderator agent.Moderator
	if cfg.Moderation.Enabled {
		policy := ""
		if cfg.Moderation.PolicyPath != "" {
			data, err := os.ReadFile(cfg.Moderation.PolicyPath)
			if err != nil {
				return fmt.Errorf("read moderation policy: %w", err)
			}
			policy = string(data)
		}
		gate, err := moderation.NewGate(cmd.Context(), client, cfg.Moderation.Model, policy, logger.Logger)
		if err != nil {
			return fmt.Errorf("initialize moderation gate: %w", err)
		}
		moderator = gate
		slog.Info("Moderation gate enabled", "model", cfg.Moderation.Model, "custom_policy", cfg.Moderation.PolicyPath != "")
	} else {
		slog.Info("Moderation gate disabled")
	}

	// Initialize handlers.
	sessions := identity.NewSessions(cookieCipher, cfg.CookieTTL, cfg.IsDevelopment(), logger.Logger)
	chatHandler := agent.NewHandler(service, sessions, moderator, auditLog, agent.HandlerConfig{
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		Production:         cfg.IsProduction(),
	}, logger.Logger)
	healthHandler := api.NewHealthHandler(healthRepo, cfg.OpenAI.APIKey != "" && cfg.OpenAI.AssistantID != "")
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Amount, cfg.RateLimit.Window, logger.Logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.ClientIP(cfg.TrustProxy))
	r.Use(middleware.RequestLogger(logger.Logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(sessions.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		healthHandler.RegisterHealth(r)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			chatHandler.RegisterRoutes(r)
		})
	})

	// Polling is bounded by the run timeout, so writes get that plus headroom.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Run.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var grpcHealth *health.Server
	if cfg.GRPCHealthPort != "" {
		grpcHealth, err = health.Listen(":"+cfg.GRPCHealthPort, logger.Logger)
		if err != nil {
			return fmt.Errorf("start gRPC health server: %w", err)
		}
		go func() {
			if err := grpcHealth.Serve(); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")
	if grpcHealth != nil {
		grpcHealth.SetServing(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	slog.Info("Server stopped successfully")
	return nil
}

// newCookieCipher uses SESSION_KEY when set. Otherwise the key lives only as long as the process.
func newCookieCipher(cfg *config.Config) (*tokencipher.Cipher, error) {
	if cfg.SessionKeyHex == "" {
		slog.Warn("SESSION_KEY not set, using a random cookie key; conversations will not survive a restart")
		return tokencipher.NewRandom(), nil
	}

	key, err := tokencipher.ParseKey(cfg.SessionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse SESSION_KEY: %w", err)
	}
	defer memguard.WipeBytes(key)

	c, err := tokencipher.New(key)
	if err != nil {
		return nil, fmt.Errorf("initialize cookie cipher: %w", err)
	}
	return c, nil
}
