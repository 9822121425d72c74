package economy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/chatwarden/db"
)

const askApology = "Sorry, I can't answer that right now."

// identityQuestions are phrasings answered directly instead of invoking the
// external AI capability.
var identityQuestions = map[string]bool{
	"who are you":     true,
	"what are you":    true,
	"who made you":    true,
	"who created you": true,
	"who built you":   true,
}

// HandleAsk answers a viewer's question. Like gamble, the cooldown is stamped
// before any validation. Identity questions get a fixed answer; everything
// else goes to the AI capability, length-bounded both ways.
func (e *Engine) HandleAsk(ctx context.Context, channelID string, v *db.Viewer, args string) {
	now := e.clock.Now()
	k := key(channelID, v.ViewerID)

	e.mu.Lock()
	if until, ok := e.askCooldowns[k]; ok && now.Before(until) {
		e.mu.Unlock()
		return // cooldown suppression chooses silence
	}
	e.askCooldowns[k] = now.Add(e.cfg.AskCooldown)
	e.mu.Unlock()

	question := strings.TrimSpace(args)
	if question == "" {
		e.send(ctx, channelID, fmt.Sprintf("%s, ask me something: %sask <question>", v.DisplayName, e.cfg.CommandPrefix))
		return
	}

	if identityQuestions[normalizeQuestion(question)] {
		e.send(ctx, channelID, fmt.Sprintf("I'm %s, this channel's chat companion. I keep score and keep the peace.", e.cfg.BotName))
		return
	}

	if e.answer == nil {
		e.send(ctx, channelID, askApology)
		return
	}
	answer, err := e.answer.Answer(ctx, question, e.cfg.MessageLimit)
	if err != nil {
		slog.Warn("ask answer failed", slog.String("channel", channelID), slog.Any("err", err))
		e.send(ctx, channelID, askApology)
		return
	}
	e.send(ctx, channelID, answer)
}

func normalizeQuestion(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	return strings.TrimRight(q, "?!. ")
}
