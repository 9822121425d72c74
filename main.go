// Command chatwarden is the main entrypoint for the live engagement engine.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Seeds a credential from the environment when configured.
//   - Starts the engine (live detection, chat polling, moderation, economy)
//     and the background OAuth token refresher.
//   - Exposes the HTTP control surface with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatwarden/ai"
	"github.com/onnwee/chatwarden/config"
	"github.com/onnwee/chatwarden/credpool"
	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/engine"
	"github.com/onnwee/chatwarden/oauth"
	"github.com/onnwee/chatwarden/server"
	"github.com/onnwee/chatwarden/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chatwarden", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	migrationCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrationCtx, database); err != nil {
		cancelMigrate()
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	cancelMigrate()

	// Root context with graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Seed a credential from env so a fresh install can bootstrap without
	// touching the database by hand. The OAuth flow completes it.
	if cfg.SeedCredentialID != "" && cfg.GoogleClientID != "" {
		cred := &db.Credential{
			ID:           cfg.SeedCredentialID,
			Label:        "seed",
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			APIKey:       cfg.GoogleAPIKey,
			Active:       true,
		}
		if err := db.UpsertCredential(ctx, database, cred); err != nil {
			slog.Error("credential seed failed", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("credential seeded", slog.String("credential", cred.ID))
	}

	var answer ai.Answerer
	if cfg.AIEndpoint != "" {
		answer = &ai.Client{Endpoint: cfg.AIEndpoint, APIKey: cfg.AIAPIKey, Model: cfg.AIModel}
	}

	pool := credpool.New(database, nil)
	eng := engine.New(database, cfg, pool, nil, answer)
	if err := eng.Start(ctx); err != nil {
		slog.Error("engine start failed", slog.Any("err", err))
		os.Exit(1)
	}

	oauth.StartRefresher(ctx, database, 5*time.Minute, 15*time.Minute)

	go func() {
		if err := server.Start(ctx, database, cfg, eng); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
