package command

import (
	"context"
	"testing"

	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/telemetry"
)

func TestDispatchRoutesCaseInsensitive(t *testing.T) {
	telemetry.Init()
	d := &Dispatcher{handlers: map[string]Handler{}}
	var got []string
	d.Register("Ping", func(_ context.Context, _ string, _ *db.Viewer, args string) {
		got = append(got, args)
	})

	v := &db.Viewer{ViewerID: "v1"}
	d.Dispatch(context.Background(), "ch", v, "PING", "one")
	d.Dispatch(context.Background(), "ch", v, "ping", "two")

	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("dispatched args = %v", got)
	}
}

func TestDispatchIgnoresUnknownCommands(t *testing.T) {
	telemetry.Init()
	d := &Dispatcher{handlers: map[string]Handler{}}
	// Must not panic or produce output.
	d.Dispatch(context.Background(), "ch", &db.Viewer{ViewerID: "v1"}, "definitely-not-registered", "")
}

func TestNewRegistersBuiltins(t *testing.T) {
	d := New(nil)
	for _, name := range []string{"points", "hours", "top", "tophours", "gamble", "ask"} {
		if _, ok := d.handlers[name]; !ok {
			t.Errorf("builtin command %q not registered", name)
		}
	}
}
