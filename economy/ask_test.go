package economy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatwarden/db"
)

type fakeAnswerer struct {
	answer string
	err    error
	asked  []string
}

func (f *fakeAnswerer) Answer(_ context.Context, question string, _ int) (string, error) {
	f.asked = append(f.asked, question)
	return f.answer, f.err
}

func askViewer() *db.Viewer {
	return &db.Viewer{ViewerID: "v1", DisplayName: "Dana"}
}

func TestAskAnswersThroughCapability(t *testing.T) {
	sender := &recordingSender{}
	answer := &fakeAnswerer{answer: "The sky is blue because of Rayleigh scattering."}
	eco := New(nil, clockwork.NewFakeClock(), testConfig(), sender, answer)

	eco.HandleAsk(context.Background(), "ch", askViewer(), "why is the sky blue?")

	if len(answer.asked) != 1 || answer.asked[0] != "why is the sky blue?" {
		t.Errorf("asked = %v", answer.asked)
	}
	msgs := sender.messages()
	if len(msgs) != 1 || msgs[0] != answer.answer {
		t.Errorf("sent = %v", msgs)
	}
}

func TestAskIdentityQuestionShortCircuits(t *testing.T) {
	sender := &recordingSender{}
	answer := &fakeAnswerer{answer: "should not be used"}
	eco := New(nil, clockwork.NewFakeClock(), testConfig(), sender, answer)

	eco.HandleAsk(context.Background(), "ch", askViewer(), "Who are you??")

	if len(answer.asked) != 0 {
		t.Error("identity question must not reach the capability")
	}
	msgs := sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Chatwarden") {
		t.Errorf("sent = %v", msgs)
	}
}

func TestAskWithoutCapabilityApologizes(t *testing.T) {
	sender := &recordingSender{}
	eco := New(nil, clockwork.NewFakeClock(), testConfig(), sender, nil)

	eco.HandleAsk(context.Background(), "ch", askViewer(), "anything")

	msgs := sender.messages()
	if len(msgs) != 1 || msgs[0] != askApology {
		t.Errorf("sent = %v, want apology", msgs)
	}
}

func TestAskCapabilityFailureApologizes(t *testing.T) {
	sender := &recordingSender{}
	answer := &fakeAnswerer{err: errors.New("endpoint down")}
	eco := New(nil, clockwork.NewFakeClock(), testConfig(), sender, answer)

	eco.HandleAsk(context.Background(), "ch", askViewer(), "anything")

	msgs := sender.messages()
	if len(msgs) != 1 || msgs[0] != askApology {
		t.Errorf("sent = %v, want apology", msgs)
	}
}

func TestAskEmptyQuestionUsage(t *testing.T) {
	sender := &recordingSender{}
	eco := New(nil, clockwork.NewFakeClock(), testConfig(), sender, nil)

	eco.HandleAsk(context.Background(), "ch", askViewer(), "   ")

	msgs := sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "!ask") {
		t.Errorf("sent = %v, want usage", msgs)
	}
}

func TestAskCooldownSilent(t *testing.T) {
	sender := &recordingSender{}
	clock := clockwork.NewFakeClock()
	answer := &fakeAnswerer{answer: "42"}
	eco := New(nil, clock, testConfig(), sender, answer)
	v := askViewer()

	eco.HandleAsk(context.Background(), "ch", v, "first")
	eco.HandleAsk(context.Background(), "ch", v, "second")
	if len(answer.asked) != 1 {
		t.Errorf("second ask inside cooldown ran: %v", answer.asked)
	}
	if len(sender.messages()) != 1 {
		t.Error("cooldown hit must be silent")
	}

	clock.Advance(61 * time.Second)
	eco.HandleAsk(context.Background(), "ch", v, "third")
	if len(answer.asked) != 2 {
		t.Error("ask after cooldown expiry did not run")
	}
}

func TestNormalizeQuestion(t *testing.T) {
	cases := map[string]string{
		"Who are you?":     "who are you",
		"WHO MADE YOU?!":   "who made you",
		"  what are you. ": "what are you",
	}
	for in, want := range cases {
		if got := normalizeQuestion(in); got != want {
			t.Errorf("normalizeQuestion(%q) = %q, want %q", in, got, want)
		}
	}
}
