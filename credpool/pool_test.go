package credpool

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/telemetry"
	"github.com/onnwee/chatwarden/testutil"
)

func addCredential(t *testing.T, p *Pool, id string, priority int) {
	t.Helper()
	ctx := context.Background()
	cred := &db.Credential{
		ID:           id,
		Label:        id,
		ClientID:     "client-" + id,
		ClientSecret: "secret-" + id,
		Active:       true,
		Priority:     priority,
	}
	if err := db.UpsertCredential(ctx, p.dbc, cred); err != nil {
		t.Fatalf("upsert credential: %v", err)
	}
	expiry := p.clock.Now().Add(time.Hour)
	if err := db.SaveCredentialTokens(ctx, p.dbc, id, "access-"+id, "refresh-"+id, expiry); err != nil {
		t.Fatalf("save tokens: %v", err)
	}
}

func cleanCredentials(t *testing.T, p *Pool) {
	t.Helper()
	if _, err := p.dbc.ExecContext(context.Background(), `DELETE FROM credentials`); err != nil {
		t.Fatalf("clean credentials: %v", err)
	}
}

func TestSelectNextRoundRobin(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	clock := clockwork.NewFakeClockAt(time.Now())
	p := New(dbc, clock)
	cleanCredentials(t, p)
	addCredential(t, p, "cred-a", 0)
	addCredential(t, p, "cred-b", 1)
	addCredential(t, p, "cred-c", 2)

	var order []string
	for i := 0; i < 6; i++ {
		cred, err := p.SelectNext(context.Background())
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		order = append(order, cred.ID)
	}
	want := []string{"cred-a", "cred-b", "cred-c", "cred-a", "cred-b", "cred-c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("rotation order = %v, want %v", order, want)
		}
	}
}

func TestSelectNextSkipsExhausted(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	clock := clockwork.NewFakeClockAt(time.Now())
	p := New(dbc, clock)
	cleanCredentials(t, p)
	addCredential(t, p, "cred-a", 0)
	addCredential(t, p, "cred-b", 1)

	if err := p.MarkExhausted(context.Background(), "cred-a"); err != nil {
		t.Fatalf("mark exhausted: %v", err)
	}
	for i := 0; i < 4; i++ {
		cred, err := p.SelectNext(context.Background())
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if cred.ID != "cred-b" {
			t.Fatalf("selected exhausted credential %s", cred.ID)
		}
	}
}

func TestSelectNextErrorWhenAllExhausted(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	clock := clockwork.NewFakeClockAt(time.Now())
	p := New(dbc, clock)
	cleanCredentials(t, p)
	addCredential(t, p, "cred-a", 0)

	if err := p.MarkExhausted(context.Background(), "cred-a"); err != nil {
		t.Fatalf("mark exhausted: %v", err)
	}
	if _, err := p.SelectNext(context.Background()); err != ErrNoCredential {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
}

func TestQuotaResetsOnNextCalendarDay(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	// Exhaust late in the evening; the flag must clear at the next local
	// midnight, not 24 hours later.
	start := time.Date(2026, 8, 27, 23, 30, 0, 0, time.Local)
	clock := clockwork.NewFakeClockAt(start)
	p := New(dbc, clock)
	cleanCredentials(t, p)
	addCredential(t, p, "cred-a", 0)

	if err := p.MarkExhausted(context.Background(), "cred-a"); err != nil {
		t.Fatalf("mark exhausted: %v", err)
	}
	if _, err := p.SelectNext(context.Background()); err != ErrNoCredential {
		t.Fatalf("expected no credential on the same day, got %v", err)
	}

	clock.Advance(time.Hour) // 00:30 the next day, well under 24h elapsed
	cred, err := p.SelectNext(context.Background())
	if err != nil {
		t.Fatalf("expected reset after date change: %v", err)
	}
	if cred.ID != "cred-a" || cred.QuotaExceeded {
		t.Errorf("credential = %+v", cred)
	}
}

func TestEnsureFreshSkipsValidToken(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	clock := clockwork.NewFakeClockAt(time.Now())
	p := New(dbc, clock)
	cleanCredentials(t, p)
	addCredential(t, p, "cred-a", 0)

	cred, err := db.GetCredential(context.Background(), dbc, "cred-a")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	// Expiry is an hour out; no refresh call should happen (it would fail
	// against the real token endpoint with fake credentials).
	if err := p.EnsureFresh(context.Background(), cred); err != nil {
		t.Errorf("EnsureFresh on valid token: %v", err)
	}
	if cred.AccessToken != "access-cred-a" {
		t.Errorf("token rewritten: %q", cred.AccessToken)
	}
}

func TestEnsureFreshRequiresRefreshToken(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	clock := clockwork.NewFakeClockAt(time.Now())
	p := New(dbc, clock)
	cleanCredentials(t, p)

	cred := &db.Credential{ID: "cred-x", TokenExpiry: clock.Now().Add(-time.Minute)}
	if err := p.EnsureFresh(context.Background(), cred); err == nil {
		t.Error("expected error for expired token without refresh token")
	}
}

func TestListUsableFiltersInactiveAndTokenless(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	clock := clockwork.NewFakeClockAt(time.Now())
	p := New(dbc, clock)
	cleanCredentials(t, p)
	addCredential(t, p, "cred-ok", 0)

	// Registered but never authorized: no access token yet.
	if err := db.UpsertCredential(context.Background(), dbc, &db.Credential{
		ID: "cred-pending", ClientID: "c", ClientSecret: "s", Active: true, Priority: 1,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Disabled by the operator.
	if err := db.UpsertCredential(context.Background(), dbc, &db.Credential{
		ID: "cred-off", ClientID: "c", ClientSecret: "s", Active: false, Priority: 2,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	usable, err := p.ListUsable(context.Background())
	if err != nil {
		t.Fatalf("list usable: %v", err)
	}
	if len(usable) != 1 || usable[0].ID != "cred-ok" {
		t.Errorf("usable = %+v", usable)
	}
}
