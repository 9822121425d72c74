package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"google.golang.org/api/option"

	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/telemetry"
	"github.com/onnwee/chatwarden/ytapi"
)

// autoMessages rotate on the auto-message tick; %[1]s is the command prefix.
var autoMessages = []string{
	"Enjoying the stream? Try %[1]spoints to see your balance, or %[1]stop for the leaderboard.",
	"Feeling lucky? %[1]sgamble <points|all> puts your balance on the line.",
	"Curious about something? %[1]sask <question> and I'll do my best.",
}

// session is one live broadcast being served: its chat cursor, self identity,
// and the cancel handle for its timers. All fields except cursor and selfID
// are set once at registration; cursor and selfID are only touched by the
// session's own goroutine.
type session struct {
	channelID string
	videoID   string
	chatID    string
	selfID    string

	cursor    string
	firstPoll bool

	cancel context.CancelFunc
}

// goLive performs the one-time transition work for a new session and starts
// its polling loop: reset the per-broadcast welcome and admin tri-states,
// resolve the engine's own identity, snapshot the moderator list, and greet
// the chat.
func (e *Engine) goLive(ctx context.Context, s *session) error {
	if err := db.ResetWelcomeStates(ctx, e.dbc, s.channelID); err != nil {
		return fmt.Errorf("reset welcome states: %w", err)
	}
	if err := db.ResetAdminStates(ctx, e.dbc, s.channelID); err != nil {
		return fmt.Errorf("reset admin states: %w", err)
	}

	err := e.withClient(ctx, func(c *ytapi.Client) error {
		id, err := c.MyChannelID(ctx)
		if err != nil {
			return err
		}
		s.selfID = id
		mods, err := c.ListModerators(ctx, s.chatID)
		if err != nil {
			return err
		}
		e.mod.SetModerators(s.channelID, mods)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session identity: %w", err)
	}

	if err := e.Send(ctx, s.channelID, fmt.Sprintf("%s is here. Type %spoints, %stop, %sgamble or %sask to play along.",
		e.cfg.BotName, e.cfg.CommandPrefix, e.cfg.CommandPrefix, e.cfg.CommandPrefix, e.cfg.CommandPrefix)); err != nil {
		slog.Warn("onboarding message failed", slog.String("channel", s.channelID), slog.Any("err", err))
	}

	slog.Info("session started",
		slog.String("channel", s.channelID),
		slog.String("video", s.videoID),
		slog.String("component", "engine"))
	go e.runSession(ctx, s)
	return nil
}

// runSession drives the session's three timers: the chat poll, the
// wall-clock-aligned award tick, and the activity-gated auto-message tick.
// Everything runs on one goroutine so channel events stay sequential.
func (e *Engine) runSession(ctx context.Context, s *session) {
	poll := e.clock.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()

	// Align the first award to the next wall-clock interval boundary so awards
	// land at predictable times regardless of when the broadcast started. The
	// timer is reset to the plain interval after each fire.
	now := e.clock.Now()
	firstAward := now.Truncate(e.cfg.AwardInterval).Add(e.cfg.AwardInterval)
	award := e.clock.NewTimer(firstAward.Sub(now))
	defer award.Stop()

	var autoCh <-chan time.Time
	if e.cfg.AutoMessageInterval > 0 {
		auto := e.clock.NewTicker(e.cfg.AutoMessageInterval)
		defer auto.Stop()
		autoCh = auto.Chan()
	}
	autoIdx := rand.Intn(len(autoMessages))

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.Chan():
			e.pollOnce(ctx, s)
		case <-award.Chan():
			award.Reset(e.cfg.AwardInterval)
			if err := e.eco.AwardChannel(ctx, s.channelID); err != nil {
				slog.Warn("award tick failed", slog.String("channel", s.channelID), slog.Any("err", err))
			}
		case <-autoCh:
			// Only speak into an active chat: skip the tick when nothing has
			// arrived since the previous one.
			if e.clock.Now().Sub(e.lastMessageAt(s.channelID)) > e.cfg.AutoMessageInterval {
				continue
			}
			text := fmt.Sprintf(autoMessages[autoIdx%len(autoMessages)], e.cfg.CommandPrefix)
			autoIdx++
			if err := e.Send(ctx, s.channelID, text); err != nil {
				slog.Warn("auto message failed", slog.String("channel", s.channelID), slog.Any("err", err))
			}
		}
	}
}

// pollOnce fetches and processes one page of chat. The first poll only primes
// the cursor so history from before the engine joined is never replayed.
// Messages are processed sequentially in arrival order; a per-message failure
// is logged and does not abort the rest of the page.
func (e *Engine) pollOnce(ctx context.Context, s *session) {
	telemetry.ChatPolls.Inc()
	telemetry.TimeFunc(telemetry.PollDuration, func() { e.doPoll(ctx, s) })
}

func (e *Engine) doPoll(ctx context.Context, s *session) {
	if s.firstPoll {
		err := e.withClient(ctx, func(c *ytapi.Client) error {
			cursor, err := c.PrimeCursor(ctx, s.chatID)
			if err != nil {
				return err
			}
			s.cursor = cursor
			return nil
		})
		if err != nil {
			e.handlePollError(ctx, s, err)
			return
		}
		s.firstPoll = false
		return
	}

	var page *ytapi.MessagePage
	err := e.withClient(ctx, func(c *ytapi.Client) error {
		var err error
		page, err = c.ListMessages(ctx, s.chatID, s.cursor)
		return err
	})
	if err != nil {
		e.handlePollError(ctx, s, err)
		return
	}
	if page.NextPageToken != "" {
		s.cursor = page.NextPageToken
	}
	for _, msg := range page.Messages {
		if ctx.Err() != nil {
			return
		}
		if err := e.mod.Process(ctx, s.channelID, s.selfID, msg); err != nil {
			slog.Warn("message processing failed",
				slog.String("channel", s.channelID),
				slog.String("message", msg.ID),
				slog.Any("err", err))
		}
	}
}

// handlePollError maps a poll failure to its session consequence. Quota
// exhaustion is already handled inside withClient; what reaches here is
// either fatal for the session (permission loss, chat gone) or transient.
func (e *Engine) handlePollError(ctx context.Context, s *session, err error) {
	switch {
	case ytapi.IsPermissionDenied(err):
		slog.Error("session lost chat permission", slog.String("channel", s.channelID), slog.Any("err", err))
		go e.StopChannel(s.channelID)
	case ytapi.IsNotFound(err):
		slog.Info("chat stream ended", slog.String("channel", s.channelID), slog.String("component", "engine"))
		go e.StopChannel(s.channelID)
	default:
		slog.Warn("chat poll failed", slog.String("channel", s.channelID), slog.Any("err", err))
	}
}

// withClient runs fn with a client built on the next pool credential. On quota
// exhaustion the credential is flagged and the call retried once on a fresh
// credential; a second exhaustion is returned to the caller.
func (e *Engine) withClient(ctx context.Context, fn func(c *ytapi.Client) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		cred, err := e.pool.SelectNext(ctx)
		if err != nil {
			return err
		}
		if err := e.pool.EnsureFresh(ctx, cred); err != nil {
			return fmt.Errorf("freshen credential %s: %w", cred.ID, err)
		}
		client, err := e.newClient(ctx, cred)
		if err != nil {
			return err
		}
		err = fn(client)
		if err == nil {
			return nil
		}
		if !ytapi.IsQuotaExceeded(err) {
			return err
		}
		if merr := e.pool.MarkExhausted(ctx, cred.ID); merr != nil {
			slog.Warn("quota flag failed", slog.String("credential", cred.ID), slog.Any("err", merr))
		}
		if attempt == 1 {
			return err
		}
	}
	return nil
}

func (e *Engine) newClient(ctx context.Context, cred *db.Credential) (*ytapi.Client, error) {
	opts := make([]option.ClientOption, 0, len(e.apiOpts))
	opts = append(opts, e.apiOpts...)
	return ytapi.New(ctx, e.pool.HTTPClient(ctx, cred), opts...)
}

// Send implements moderation.Actions and economy.Sender. Messages for a
// channel without an active session are dropped; there is no chat to speak
// into.
func (e *Engine) Send(ctx context.Context, channelID, text string) error {
	s := e.getSession(channelID)
	if s == nil {
		return fmt.Errorf("no active session for channel %s", channelID)
	}
	err := e.withClient(ctx, func(c *ytapi.Client) error {
		_, err := c.SendMessage(ctx, s.chatID, text)
		return err
	})
	if err == nil {
		telemetry.MessagesSent.Inc()
	}
	return err
}

// Delete implements moderation.Actions.
func (e *Engine) Delete(ctx context.Context, channelID, messageID string) error {
	if e.getSession(channelID) == nil {
		return fmt.Errorf("no active session for channel %s", channelID)
	}
	return e.withClient(ctx, func(c *ytapi.Client) error {
		return c.DeleteMessage(ctx, messageID)
	})
}

// Timeout implements moderation.Actions.
func (e *Engine) Timeout(ctx context.Context, channelID, viewerID string, d time.Duration) error {
	s := e.getSession(channelID)
	if s == nil {
		return fmt.Errorf("no active session for channel %s", channelID)
	}
	return e.withClient(ctx, func(c *ytapi.Client) error {
		return c.TimeoutUser(ctx, s.chatID, viewerID, d)
	})
}
