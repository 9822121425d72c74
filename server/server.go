// Package server exposes the HTTP control surface: health, engine status,
// metrics, channel lifecycle controls, leaderboards, and the OAuth flow that
// completes credentials. It injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chatwarden/config"
	"github.com/onnwee/chatwarden/engine"
	"github.com/onnwee/chatwarden/telemetry"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(dbc *sql.DB, cfg *config.Config, eng *engine.Engine) http.Handler {
	h := &Handlers{dbc: dbc, cfg: cfg, eng: eng}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/status", h.HandleStatus)

	mux.HandleFunc("/check", h.HandleCheck)
	mux.HandleFunc("/pause", h.HandlePause)
	mux.HandleFunc("/resume", h.HandleResume)

	mux.HandleFunc("/channels", h.HandleChannelsList)
	mux.HandleFunc("/channels/", h.HandleChannelDispatcher)

	mux.HandleFunc("/auth/google/start", h.HandleOAuthStart)
	mux.HandleFunc("/auth/google/callback", h.HandleOAuthCallback)

	// Wrap with correlation ID injector and tracing middleware.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate.
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrapped, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrapped.statusCode)
	})
	return handler
}

// statusRecorder wraps ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, dbc *sql.DB, cfg *config.Config, eng *engine.Engine) error {
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewMux(dbc, cfg, eng),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
