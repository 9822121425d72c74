// Package command routes parsed chat commands to their handlers. The
// dispatcher is a flat, case-insensitive map and performs no policy of its
// own; cooldowns and permissions live in the handlers.
package command

import (
	"context"
	"strings"

	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/economy"
	"github.com/onnwee/chatwarden/telemetry"
)

// Handler processes one invocation of a chat command.
type Handler func(ctx context.Context, channelID string, v *db.Viewer, args string)

// Dispatcher maps lowercase command names to handlers. Unrecognized commands
// are silently ignored.
type Dispatcher struct {
	handlers map[string]Handler
}

// New registers the built-in economy commands.
func New(eco *economy.Engine) *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{
		"points":   eco.HandlePoints,
		"hours":    eco.HandleHours,
		"top":      eco.HandleTop,
		"tophours": eco.HandleTopHours,
		"gamble":   eco.HandleGamble,
		"ask":      eco.HandleAsk,
	}}
}

// Register adds or replaces a handler; used by tests and optional extensions.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[strings.ToLower(name)] = h
}

// Dispatch routes a command by its lowercase name.
func (d *Dispatcher) Dispatch(ctx context.Context, channelID string, v *db.Viewer, name, args string) {
	h, ok := d.handlers[strings.ToLower(name)]
	if !ok {
		return
	}
	telemetry.CountCommand(strings.ToLower(name))
	h(ctx, channelID, v, args)
}
