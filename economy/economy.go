// Package economy maintains per-viewer points and watch time: periodic
// awarding to active viewers, balance and leaderboard queries, the gamble
// command, and the AI-backed ask command. Command cooldowns are stamped
// before argument validation, so a malformed attempt still consumes the
// window; this prevents rapid-fire retry probing and is applied uniformly.
package economy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatwarden/ai"
	"github.com/onnwee/chatwarden/config"
	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/telemetry"
)

// Sender delivers outbound chat messages through a pool-selected credential.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

const leaderboardSize = 5

// Engine owns the cooldown maps and the award/settlement logic. Cooldowns are
// ephemeral per-process state and reset on restart.
type Engine struct {
	dbc    *sql.DB
	clock  clockwork.Clock
	cfg    *config.Config
	sender Sender
	answer ai.Answerer

	mu              sync.Mutex
	gambleCooldowns map[string]time.Time
	askCooldowns    map[string]time.Time

	// roll returns a uniform draw in 1..100; swappable for tests.
	roll func() int
}

// New returns an economy engine. answer may be nil; the ask command then
// degrades to the canned apology.
func New(dbc *sql.DB, clock clockwork.Clock, cfg *config.Config, sender Sender, answer ai.Answerer) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		dbc:             dbc,
		clock:           clock,
		cfg:             cfg,
		sender:          sender,
		answer:          answer,
		gambleCooldowns: make(map[string]time.Time),
		askCooldowns:    make(map[string]time.Time),
		//nolint:gosec // G404: math/rand is sufficient for game outcomes, not used for security
		roll: func() int { return rand.Intn(100) + 1 },
	}
}

func key(channelID, viewerID string) string { return channelID + "|" + viewerID }

// AwardChannel grants the fixed point and watch-minute increments to every
// viewer active within the trailing award window. Called by the session's
// award ticker every interval.
func (e *Engine) AwardChannel(ctx context.Context, channelID string) error {
	since := e.clock.Now().Add(-e.cfg.AwardInterval)
	minutes := int64(e.cfg.AwardInterval.Minutes())
	n, err := db.AwardActiveViewers(ctx, e.dbc, channelID, e.cfg.AwardPoints, minutes, since)
	if err != nil {
		return fmt.Errorf("award active viewers: %w", err)
	}
	if n > 0 {
		telemetry.PointsAwarded.Add(float64(e.cfg.AwardPoints * n))
		slog.Info("points awarded", slog.String("channel", channelID), slog.Int64("viewers", n),
			slog.Int64("points", e.cfg.AwardPoints), slog.String("component", "economy"))
	}
	return nil
}

// HandlePoints reports the viewer's current balance.
func (e *Engine) HandlePoints(ctx context.Context, channelID string, v *db.Viewer, _ string) {
	row, err := db.GetViewer(ctx, e.dbc, channelID, v.ViewerID)
	if err != nil {
		slog.Warn("points lookup failed", slog.Any("err", err))
		return
	}
	if row == nil {
		e.send(ctx, channelID, fmt.Sprintf("%s, I haven't seen you around yet.", v.DisplayName))
		return
	}
	e.send(ctx, channelID, fmt.Sprintf("%s, you have %d points.", row.DisplayName, row.Points))
}

// HandleHours reports the viewer's accumulated watch time.
func (e *Engine) HandleHours(ctx context.Context, channelID string, v *db.Viewer, _ string) {
	row, err := db.GetViewer(ctx, e.dbc, channelID, v.ViewerID)
	if err != nil {
		slog.Warn("hours lookup failed", slog.Any("err", err))
		return
	}
	if row == nil {
		e.send(ctx, channelID, fmt.Sprintf("%s, I haven't seen you around yet.", v.DisplayName))
		return
	}
	hours := float64(row.WatchMinutes) / 60
	e.send(ctx, channelID, fmt.Sprintf("%s, you have watched for %.1f hours.", row.DisplayName, hours))
}

// HandleTop reports the top viewers by points.
func (e *Engine) HandleTop(ctx context.Context, channelID string, _ *db.Viewer, _ string) {
	e.sendLeaderboard(ctx, channelID, "points")
}

// HandleTopHours reports the top viewers by watch time.
func (e *Engine) HandleTopHours(ctx context.Context, channelID string, _ *db.Viewer, _ string) {
	e.sendLeaderboard(ctx, channelID, "watch_minutes")
}

func (e *Engine) sendLeaderboard(ctx context.Context, channelID, by string) {
	text, err := e.Leaderboard(ctx, channelID, by)
	if err != nil {
		slog.Warn("leaderboard failed", slog.String("channel", channelID), slog.Any("err", err))
		return
	}
	e.send(ctx, channelID, text)
}

// Leaderboard renders the ranked top-5 list for a channel; by is "points" or
// "watch_minutes". Also served over the HTTP control surface.
func (e *Engine) Leaderboard(ctx context.Context, channelID, by string) (string, error) {
	top, err := db.TopViewers(ctx, e.dbc, channelID, by, leaderboardSize)
	if err != nil {
		return "", err
	}
	if len(top) == 0 {
		return "No viewers on the board yet.", nil
	}
	parts := make([]string, 0, len(top))
	for i, v := range top {
		val := v.Points
		if by == "watch_minutes" {
			val = v.WatchMinutes
		}
		name := v.DisplayName
		if name == "" {
			name = v.ViewerID
		}
		parts = append(parts, fmt.Sprintf("%d. %s (%d)", i+1, name, val))
	}
	return strings.Join(parts, " | "), nil
}

func (e *Engine) send(ctx context.Context, channelID, text string) {
	if len(text) > e.cfg.MessageLimit {
		text = text[:e.cfg.MessageLimit]
	}
	if err := e.sender.Send(ctx, channelID, text); err != nil {
		slog.Warn("economy send failed", slog.String("channel", channelID), slog.Any("err", err))
	}
}

// ClearChannel drops the channel's cooldown state when its session ends.
func (e *Engine) ClearChannel(channelID string) {
	prefix := channelID + "|"
	e.mu.Lock()
	for k := range e.gambleCooldowns {
		if strings.HasPrefix(k, prefix) {
			delete(e.gambleCooldowns, k)
		}
	}
	for k := range e.askCooldowns {
		if strings.HasPrefix(k, prefix) {
			delete(e.askCooldowns, k)
		}
	}
	e.mu.Unlock()
}
