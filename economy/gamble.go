package economy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/onnwee/chatwarden/db"
)

// Roll bands over the uniform 1..100 draw. The bands partition the range with
// no gaps or overlaps: 1-60 lose the stake, 61-90 return 2x, 91-99 return 3x,
// 100 hits the jackpot.
const (
	loseBandMax   = 60
	doubleBandMax = 90
	tripleBandMax = 99

	jackpotMultiplier = 10
)

func multiplierFor(roll int) (int64, string) {
	switch {
	case roll <= loseBandMax:
		return 0, "lost"
	case roll <= doubleBandMax:
		return 2, "doubled"
	case roll <= tripleBandMax:
		return 3, "tripled"
	default:
		return jackpotMultiplier, "JACKPOT"
	}
}

// HandleGamble settles a gamble. The cooldown is stamped before the stake is
// validated, so rejected attempts still start the window. The settlement
// clamps the delta so the balance never goes below zero.
func (e *Engine) HandleGamble(ctx context.Context, channelID string, v *db.Viewer, args string) {
	now := e.clock.Now()
	k := key(channelID, v.ViewerID)

	e.mu.Lock()
	if until, ok := e.gambleCooldowns[k]; ok && now.Before(until) {
		e.mu.Unlock()
		return // cooldown suppression chooses silence
	}
	e.gambleCooldowns[k] = now.Add(e.cfg.GambleCooldown)
	e.mu.Unlock()

	row, err := db.GetViewer(ctx, e.dbc, channelID, v.ViewerID)
	if err != nil || row == nil {
		slog.Warn("gamble viewer lookup failed", slog.Any("err", err))
		return
	}

	var stake int64
	arg := strings.ToLower(strings.TrimSpace(args))
	switch {
	case arg == "all":
		stake = row.Points
		if stake > e.cfg.GambleCeiling {
			stake = e.cfg.GambleCeiling
		}
	default:
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			e.send(ctx, channelID, fmt.Sprintf("%s, usage: %sgamble <points|all>", row.DisplayName, e.cfg.CommandPrefix))
			return
		}
		stake = n
	}
	if stake <= 0 {
		e.send(ctx, channelID, fmt.Sprintf("%s, the stake must be a positive number of points.", row.DisplayName))
		return
	}
	if stake > row.Points {
		e.send(ctx, channelID, fmt.Sprintf("%s, you only have %d points.", row.DisplayName, row.Points))
		return
	}

	roll := e.roll()
	mult, outcome := multiplierFor(roll)
	delta := stake * (mult - 1)
	balance := row.Points + delta
	if balance < 0 {
		delta = -row.Points
		balance = 0
	}
	if err := db.SetViewerPoints(ctx, e.dbc, channelID, v.ViewerID, balance); err != nil {
		slog.Warn("gamble settlement failed", slog.String("channel", channelID), slog.Any("err", err))
		return
	}
	e.send(ctx, channelID, fmt.Sprintf("%s rolled %d and %s: %+d points. Balance: %d.",
		row.DisplayName, roll, outcome, delta, balance))
}
