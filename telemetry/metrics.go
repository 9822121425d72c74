// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatPolls          prometheus.Counter
	MessagesProcessed  prometheus.Counter
	MessagesSent       prometheus.Counter
	MessagesDeleted    prometheus.Counter
	TimeoutsIssued     prometheus.Counter
	WelcomesSent       prometheus.Counter
	CommandsDispatched *prometheus.CounterVec
	QuotaExhaustions   prometheus.Counter
	TokenRefreshes     prometheus.Counter
	PointsAwarded      prometheus.Counter

	// Histograms (seconds)
	PollDuration prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
	UsableCredsGauge    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatPolls = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_chat_polls_total", Help: "Number of chat page polls issued"})
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_messages_processed_total", Help: "Number of chat messages run through the moderation pipeline"})
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_messages_sent_total", Help: "Number of outbound chat messages sent"})
		MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_messages_deleted_total", Help: "Number of chat messages deleted by moderation"})
		TimeoutsIssued = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_timeouts_issued_total", Help: "Number of temporary timeouts issued"})
		WelcomesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_welcomes_sent_total", Help: "Number of welcome and welcome-back messages sent"})
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatwarden_commands_dispatched_total", Help: "Number of chat commands dispatched, by command"}, []string{"command"})
		QuotaExhaustions = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_quota_exhaustions_total", Help: "Number of credentials marked quota-exhausted"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_token_refreshes_total", Help: "Number of credential OAuth token refreshes"})
		PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_points_awarded_total", Help: "Total points granted by periodic awarding"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatwarden_poll_duration_seconds", Help: "Chat poll duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatwarden_active_sessions", Help: "Current number of live chat sessions"})
		UsableCredsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatwarden_usable_credentials", Help: "Credentials currently usable for API calls"})
	})
}

// SetActiveSessions records the current live session count.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// SetUsableCredentials records the current usable credential count.
func SetUsableCredentials(n int) {
	if UsableCredsGauge != nil {
		UsableCredsGauge.Set(float64(n))
	}
}

// CountCommand increments the dispatch counter for a command name.
func CountCommand(name string) {
	if CommandsDispatched != nil {
		CommandsDispatched.WithLabelValues(name).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
