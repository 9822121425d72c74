// Package moderation evaluates each inbound chat event against the engine's
// policy pipeline: self-filter, viewer materialization, welcome logic, free
// pass, active timeout, moderator/owner exemption, repeat/link policy, and
// finally bookkeeping plus command dispatch. Order matters: the self-filter
// and free pass run before content policy so the engine never moderates
// itself or exempted accounts, and welcome logic runs before the later
// short-circuits so greetings are not suppressed by policy.
package moderation

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

	"github.com/onnwee/chatwarden/config"
	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/telemetry"
	"github.com/onnwee/chatwarden/ytapi"
)

// Actions are the outbound moderation side effects, performed through a
// pool-selected credential by the session layer.
type Actions interface {
	Send(ctx context.Context, channelID, text string) error
	Delete(ctx context.Context, channelID, messageID string) error
	Timeout(ctx context.Context, channelID, viewerID string, d time.Duration) error
}

// Dispatcher routes a parsed command to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, channelID string, v *db.Viewer, name, args string)
}

var welcomeTemplates = []string{
	"Welcome to the stream, %s!",
	"Hey %s, good to see you here!",
	"%s just joined the chat, welcome!",
}

var welcomeBackTemplates = []string{
	"Welcome back, %s! You were away for %d minutes.",
	"%s returns after %d minutes, good to have you back!",
	"Look who's back: %s, gone for %d minutes.",
}

// Engine holds the per-process moderation state: recent-message sliding
// windows and timeout expiries keyed by (channel, viewer), and the per-session
// moderator cache keyed by channel. All of it is ephemeral and resets on
// restart.
type Engine struct {
	dbc   *sql.DB
	clock clockwork.Clock
	cfg   *config.Config
	acts  Actions
	cmds  Dispatcher

	// Touch records chat liveness per channel; the session layer uses it to
	// gate periodic auto-messages on recent activity.
	Touch func(channelID string)

	mu       sync.Mutex
	windows  map[string][]string
	timeouts map[string]time.Time
	mods     map[string]map[string]bool
}

// New returns a moderation engine. acts and cmds are required; Touch is
// optional and may be set by the session layer after construction.
func New(dbc *sql.DB, clock clockwork.Clock, cfg *config.Config, acts Actions, cmds Dispatcher) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		dbc:      dbc,
		clock:    clock,
		cfg:      cfg,
		acts:     acts,
		cmds:     cmds,
		windows:  make(map[string][]string),
		timeouts: make(map[string]time.Time),
		mods:     make(map[string]map[string]bool),
	}
}

func key(channelID, viewerID string) string { return channelID + "|" + viewerID }

// SetModerators installs the per-session moderator cache for a channel,
// populated once per session from the full moderator list.
func (e *Engine) SetModerators(channelID string, ids []string) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	e.mu.Lock()
	e.mods[channelID] = set
	e.mu.Unlock()
}

// ClearChannel discards all ephemeral state for a channel when its session ends.
func (e *Engine) ClearChannel(channelID string) {
	prefix := channelID + "|"
	e.mu.Lock()
	delete(e.mods, channelID)
	for k := range e.windows {
		if strings.HasPrefix(k, prefix) {
			delete(e.windows, k)
		}
	}
	for k := range e.timeouts {
		if strings.HasPrefix(k, prefix) {
			delete(e.timeouts, k)
		}
	}
	e.mu.Unlock()
}

// InTimeout reports whether the viewer is currently within a timeout window.
func (e *Engine) InTimeout(channelID, viewerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	exp, ok := e.timeouts[key(channelID, viewerID)]
	return ok && e.clock.Now().Before(exp)
}

// Process runs one chat event through the pipeline. selfID is the engine's
// own identity for the credential currently receiving traffic. Events for the
// same channel must be processed sequentially, in arrival order.
func (e *Engine) Process(ctx context.Context, channelID, selfID string, msg ytapi.Message) error {
	telemetry.MessagesProcessed.Inc()
	now := e.clock.Now()

	// 1. Self-filter: liveness bookkeeping only.
	if selfID != "" && msg.AuthorID == selfID {
		e.touch(channelID)
		return nil
	}

	// 2. Viewer materialization.
	v, err := db.EnsureViewer(ctx, e.dbc, channelID, msg.AuthorID, msg.AuthorName, now)
	if err != nil {
		return fmt.Errorf("ensure viewer: %w", err)
	}

	// 3. Welcome / return greeting. WelcomeUnknown is an opt-out.
	switch v.WelcomeState {
	case db.WelcomeUnknown:
		// never evaluate welcome logic for this viewer
	case db.WelcomePending:
		text := fmt.Sprintf(welcomeTemplates[rand.Intn(len(welcomeTemplates))], msg.AuthorName)
		if err := e.acts.Send(ctx, channelID, text); err != nil {
			slog.Warn("welcome send failed", slog.String("channel", channelID), slog.Any("err", err))
		} else {
			telemetry.WelcomesSent.Inc()
		}
		if err := db.SetWelcomeState(ctx, e.dbc, channelID, msg.AuthorID, db.WelcomeSent); err != nil {
			return fmt.Errorf("set welcome state: %w", err)
		}
	case db.WelcomeSent:
		if !v.LastActive.IsZero() {
			if gap := now.Sub(v.LastActive); gap > e.cfg.AwayThreshold {
				mins := int(gap.Minutes())
				text := fmt.Sprintf(welcomeBackTemplates[rand.Intn(len(welcomeBackTemplates))], msg.AuthorName, mins)
				if err := e.acts.Send(ctx, channelID, text); err != nil {
					slog.Warn("welcome back send failed", slog.String("channel", channelID), slog.Any("err", err))
				} else {
					telemetry.WelcomesSent.Inc()
				}
			}
		}
	}

	// 4. Free pass: exempt accounts skip all moderation but commands still work.
	if v.AdminState == db.AdminYes {
		return e.bookkeepAndDispatch(ctx, channelID, v, msg, now)
	}

	// 5. Active timeout: drop silently.
	e.mu.Lock()
	exp, inTimeout := e.timeouts[key(channelID, msg.AuthorID)]
	e.mu.Unlock()
	if inTimeout && now.Before(exp) {
		return nil
	}

	// 6. Moderator/owner check, resolved once per session and cached.
	if v.AdminState == db.AdminUnknown {
		e.mu.Lock()
		isMod := msg.AuthorID == channelID || e.mods[channelID][msg.AuthorID]
		e.mu.Unlock()
		state := db.AdminNo
		if isMod {
			state = db.AdminYes
		}
		if err := db.SetAdminState(ctx, e.dbc, channelID, msg.AuthorID, state); err != nil {
			return fmt.Errorf("set admin state: %w", err)
		}
		v.AdminState = state
		if isMod {
			return e.bookkeepAndDispatch(ctx, channelID, v, msg, now)
		}
	}

	// 7. Content policy: repeat detection and link filtering.
	ch, err := db.GetChannel(ctx, e.dbc, channelID)
	if err != nil {
		return fmt.Errorf("get channel: %w", err)
	}
	if ch != nil && ch.ModerationEnabled {
		if e.violates(channelID, msg.AuthorID, msg.Text) {
			e.punish(ctx, channelID, msg, now)
			return nil
		}
	}

	// 8. Bookkeeping & command dispatch.
	return e.bookkeepAndDispatch(ctx, channelID, v, msg, now)
}

// violates appends the text to the viewer's sliding window and reports whether
// it repeats within the window or contains an HTTP(S) URL.
func (e *Engine) violates(channelID, viewerID, text string) bool {
	k := key(channelID, viewerID)
	e.mu.Lock()
	w := append(e.windows[k], text)
	if len(w) > e.cfg.MessageWindow {
		w = w[len(w)-e.cfg.MessageWindow:]
	}
	e.windows[k] = w
	dups := 0
	for _, prev := range w {
		if prev == text {
			dups++
		}
	}
	e.mu.Unlock()
	if dups >= 2 {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "http://") || strings.Contains(lower, "https://")
}

// punish deletes the offending message, imposes a local and remote timeout of
// equal duration, and sends a public warning.
func (e *Engine) punish(ctx context.Context, channelID string, msg ytapi.Message, now time.Time) {
	if err := e.acts.Delete(ctx, channelID, msg.ID); err != nil {
		slog.Warn("message delete failed", slog.String("channel", channelID), slog.Any("err", err))
	} else {
		telemetry.MessagesDeleted.Inc()
	}
	e.mu.Lock()
	e.timeouts[key(channelID, msg.AuthorID)] = now.Add(e.cfg.TimeoutDuration)
	e.mu.Unlock()
	if err := e.acts.Timeout(ctx, channelID, msg.AuthorID, e.cfg.TimeoutDuration); err != nil {
		slog.Warn("remote timeout failed", slog.String("channel", channelID), slog.Any("err", err))
	} else {
		telemetry.TimeoutsIssued.Inc()
	}
	warning := fmt.Sprintf("%s, repeated messages and links are not allowed here. Timed out for %d seconds.",
		msg.AuthorName, int(e.cfg.TimeoutDuration.Seconds()))
	if err := e.acts.Send(ctx, channelID, warning); err != nil {
		slog.Warn("warning send failed", slog.String("channel", channelID), slog.Any("err", err))
	}
}

func (e *Engine) bookkeepAndDispatch(ctx context.Context, channelID string, v *db.Viewer, msg ytapi.Message, now time.Time) error {
	e.touch(channelID)
	if err := db.UpdateViewerActivity(ctx, e.dbc, channelID, msg.AuthorID, msg.AuthorName, now); err != nil {
		return fmt.Errorf("update viewer activity: %w", err)
	}
	v.DisplayName = msg.AuthorName
	prefix := e.cfg.CommandPrefix
	if prefix == "" || !strings.HasPrefix(msg.Text, prefix) {
		return nil
	}
	rest := strings.TrimSpace(msg.Text[len(prefix):])
	if rest == "" {
		return nil
	}
	name, args, _ := strings.Cut(rest, " ")
	e.cmds.Dispatch(ctx, channelID, v, name, strings.TrimSpace(args))
	return nil
}

func (e *Engine) touch(channelID string) {
	if e.Touch != nil {
		e.Touch(channelID)
	}
}
