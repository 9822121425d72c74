// Package engine coordinates the live engagement engine: per-channel live
// detection, session lifecycle, the chat ingestion loop, and the outbound
// action path through the credential pool. All session, cooldown, and cache
// state lives in this explicit aggregate rather than ambient globals.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/api/option"

	"github.com/onnwee/chatwarden/ai"
	"github.com/onnwee/chatwarden/command"
	"github.com/onnwee/chatwarden/config"
	"github.com/onnwee/chatwarden/credpool"
	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/economy"
	"github.com/onnwee/chatwarden/moderation"
	"github.com/onnwee/chatwarden/telemetry"
	"github.com/onnwee/chatwarden/ytapi"
)

const pauseKey = "engine_paused"

// Status is the aggregate engine state reported over the control surface.
type Status struct {
	Initialized    bool     `json:"initialized"`
	Paused         bool     `json:"paused"`
	ActiveChannels []string `json:"active_channels"`
}

// Engine owns the session registry and wires the moderation and economy
// engines to the platform through the credential pool.
type Engine struct {
	dbc   *sql.DB
	cfg   *config.Config
	pool  *credpool.Pool
	clock clockwork.Clock

	mod *moderation.Engine
	eco *economy.Engine

	// apiOpts lets tests point the platform client at a mock server.
	apiOpts []option.ClientOption

	rootCtx context.Context

	mu          sync.Mutex
	sessions    map[string]*session
	searching   map[string]bool
	lastMessage map[string]time.Time
	paused      bool
	initialized bool
}

// New wires the engine together. answer may be nil (ask degrades to apology).
func New(dbc *sql.DB, cfg *config.Config, pool *credpool.Pool, clock clockwork.Clock, answer ai.Answerer, apiOpts ...option.ClientOption) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	e := &Engine{
		dbc:         dbc,
		cfg:         cfg,
		pool:        pool,
		clock:       clock,
		apiOpts:     apiOpts,
		sessions:    make(map[string]*session),
		searching:   make(map[string]bool),
		lastMessage: make(map[string]time.Time),
	}
	e.eco = economy.New(dbc, clock, cfg, e, answer)
	e.mod = moderation.New(dbc, clock, cfg, e, command.New(e.eco))
	e.mod.Touch = e.touch
	return e
}

// Economy exposes the economy engine for the HTTP leaderboard endpoint.
func (e *Engine) Economy() *economy.Engine { return e.eco }

// Start loads persisted engine state and, when configured, begins the
// periodic live-check sweep. The given context bounds every session.
func (e *Engine) Start(ctx context.Context) error {
	e.rootCtx = ctx
	paused, err := db.GetKV(ctx, e.dbc, pauseKey)
	if err != nil {
		return fmt.Errorf("load pause state: %w", err)
	}
	e.mu.Lock()
	e.paused = paused == "1"
	e.initialized = true
	e.mu.Unlock()
	if e.cfg.LiveCheckInterval > 0 {
		go e.runAutoCheck(ctx)
	}
	slog.Info("engine started", slog.Bool("paused", paused == "1"), slog.String("component", "engine"))
	return nil
}

func (e *Engine) runAutoCheck(ctx context.Context) {
	ticker := e.clock.NewTicker(e.cfg.LiveCheckInterval)
	defer ticker.Stop()
	slog.Info("live-check sweep started", slog.Duration("interval", e.cfg.LiveCheckInterval), slog.String("component", "engine"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.CheckAll(ctx)
		}
	}
}

// Status reports the aggregate engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{Initialized: e.initialized, Paused: e.paused, ActiveChannels: make([]string, 0, len(e.sessions))}
	for ch := range e.sessions {
		st.ActiveChannels = append(st.ActiveChannels, ch)
	}
	return st
}

// Pause tears down every active session and suppresses (re)starts until Resume.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	e.paused = true
	channels := make([]string, 0, len(e.sessions))
	for ch := range e.sessions {
		channels = append(channels, ch)
	}
	e.mu.Unlock()
	for _, ch := range channels {
		e.StopChannel(ch)
	}
	slog.Info("engine paused", slog.Int("stopped_sessions", len(channels)), slog.String("component", "engine"))
	return db.SetKV(ctx, e.dbc, pauseKey, "1")
}

// Resume lifts the pause; sessions restart on the next live check.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	slog.Info("engine resumed", slog.String("component", "engine"))
	return db.SetKV(ctx, e.dbc, pauseKey, "0")
}

// CheckAll runs a live-check sweep across every registered channel.
func (e *Engine) CheckAll(ctx context.Context) {
	channels, err := db.ListChannels(ctx, e.dbc)
	if err != nil {
		slog.Warn("channel list failed", slog.Any("err", err), slog.String("component", "engine"))
		return
	}
	for _, ch := range channels {
		if err := e.CheckChannel(ctx, ch.ID); err != nil {
			slog.Warn("live check failed", slog.String("channel", ch.ID), slog.Any("err", err))
		}
	}
}

// CheckChannel discovers whether the channel is broadcasting and reconciles
// the session state: starts a session when a live chat is found, tears the
// session down when the broadcast has ended. Safe to call on a schedule and
// on demand; concurrent checks for the same channel coalesce.
func (e *Engine) CheckChannel(ctx context.Context, channelID string) error {
	e.mu.Lock()
	if e.paused || e.searching[channelID] {
		e.mu.Unlock()
		return nil
	}
	e.searching[channelID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.searching, channelID)
		e.mu.Unlock()
	}()

	var videoID string
	err := e.withClient(ctx, func(c *ytapi.Client) error {
		var err error
		videoID, err = c.FindLiveBroadcast(ctx, channelID)
		return err
	})
	if err != nil {
		if ytapi.IsNotFound(err) {
			videoID = ""
		} else {
			return fmt.Errorf("broadcast search: %w", err)
		}
	}

	if videoID == "" {
		// Not live: tear down any session left over from a previous broadcast.
		if e.hasSession(channelID) {
			slog.Info("broadcast ended", slog.String("channel", channelID), slog.String("component", "engine"))
			e.StopChannel(channelID)
		}
		return nil
	}

	if s := e.getSession(channelID); s != nil && s.videoID == videoID {
		return nil // already serving this broadcast
	}

	var chatID string
	err = e.withClient(ctx, func(c *ytapi.Client) error {
		var err error
		chatID, err = c.LiveChatID(ctx, videoID)
		return err
	})
	if err != nil {
		if ytapi.IsNotFound(err) {
			chatID = ""
		} else {
			return fmt.Errorf("resolve live chat: %w", err)
		}
	}
	if chatID == "" {
		if e.hasSession(channelID) {
			e.StopChannel(channelID)
		}
		return nil
	}

	// Race guard: network calls happened above, so re-check and register
	// under the same lock; a concurrent check may have beaten us here.
	sctx, cancel := context.WithCancel(e.sessionContext())
	s := &session{
		channelID: channelID,
		videoID:   videoID,
		chatID:    chatID,
		firstPoll: true,
		cancel:    cancel,
	}
	e.mu.Lock()
	if e.paused || e.sessions[channelID] != nil {
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.sessions[channelID] = s
	n := len(e.sessions)
	e.mu.Unlock()
	telemetry.SetActiveSessions(n)

	if err := e.goLive(sctx, s); err != nil {
		e.StopChannel(channelID)
		return fmt.Errorf("session start: %w", err)
	}
	return nil
}

// StopChannel ends a channel's session: cancels its timers and discards its
// moderation cache and cooldowns. No further side effects occur for the
// channel after this returns; an in-flight poll may still complete but its
// result is discarded by the cancelled context.
func (e *Engine) StopChannel(channelID string) {
	e.mu.Lock()
	s := e.sessions[channelID]
	delete(e.sessions, channelID)
	delete(e.lastMessage, channelID)
	n := len(e.sessions)
	e.mu.Unlock()
	telemetry.SetActiveSessions(n)
	if s == nil {
		return
	}
	s.cancel()
	e.mod.ClearChannel(channelID)
	e.eco.ClearChannel(channelID)
	slog.Info("session stopped", slog.String("channel", channelID), slog.String("component", "engine"))
}

func (e *Engine) sessionContext() context.Context {
	if e.rootCtx != nil {
		return e.rootCtx
	}
	return context.Background()
}

func (e *Engine) hasSession(channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[channelID] != nil
}

func (e *Engine) getSession(channelID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[channelID]
}

func (e *Engine) touch(channelID string) {
	e.mu.Lock()
	e.lastMessage[channelID] = e.clock.Now()
	e.mu.Unlock()
}

func (e *Engine) lastMessageAt(channelID string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastMessage[channelID]
}
