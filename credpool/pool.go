// Package credpool owns the shared pool of API credentials: round-robin
// selection across the usable set, calendar-day quota exhaustion with an
// automatic next-day reset sweep, and OAuth token freshening with immediate
// persistence. The round-robin cursor is pool-owned state; callers only ever
// see credentials, never the cursor.
package credpool

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/telemetry"
)

// ErrNoCredential is returned when no usable credential remains after the
// quota-reset sweep.
var ErrNoCredential = errors.New("no usable credential available")

// refreshSkew freshens tokens slightly before their actual expiry so an
// in-flight call does not race the deadline.
const refreshSkew = 2 * time.Minute

type Pool struct {
	dbc   *sql.DB
	clock clockwork.Clock

	mu     sync.Mutex
	cursor int
}

// New returns a pool backed by the credentials table.
func New(dbc *sql.DB, clock clockwork.Clock) *Pool {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pool{dbc: dbc, clock: clock}
}

// ListUsable returns credentials with active=true, a stored access token, and
// no quota exhaustion, ordered by priority ascending.
func (p *Pool) ListUsable(ctx context.Context) ([]db.Credential, error) {
	all, err := db.ListCredentials(ctx, p.dbc)
	if err != nil {
		return nil, err
	}
	var usable []db.Credential
	for _, c := range all {
		if c.Active && c.AccessToken != "" && !c.QuotaExceeded {
			usable = append(usable, c)
		}
	}
	telemetry.SetUsableCredentials(len(usable))
	return usable, nil
}

// SelectNext advances the round-robin cursor over the usable set and returns
// the next credential. When the usable set is empty it runs the quota-reset
// sweep once and retries; if still empty it fails with ErrNoCredential.
// Selection does not pin the credential to the caller beyond one logical
// operation; every API call re-selects.
func (p *Pool) SelectNext(ctx context.Context) (*db.Credential, error) {
	usable, err := p.ListUsable(ctx)
	if err != nil {
		return nil, err
	}
	if len(usable) == 0 {
		if err := p.sweepQuotaReset(ctx); err != nil {
			return nil, err
		}
		if usable, err = p.ListUsable(ctx); err != nil {
			return nil, err
		}
		if len(usable) == 0 {
			return nil, ErrNoCredential
		}
	}
	p.mu.Lock()
	idx := p.cursor % len(usable)
	p.cursor++
	p.mu.Unlock()
	cred := usable[idx]
	if err := db.TouchCredential(ctx, p.dbc, cred.ID, p.clock.Now()); err != nil {
		slog.Warn("credential touch failed", slog.String("credential", cred.ID), slog.Any("err", err))
	}
	return &cred, nil
}

// MarkExhausted flags a credential as quota-spent as of now. It rejoins the
// rotation once the wall-clock date advances past today.
func (p *Pool) MarkExhausted(ctx context.Context, id string) error {
	if err := db.SetCredentialQuota(ctx, p.dbc, id, true, p.clock.Now()); err != nil {
		return err
	}
	telemetry.QuotaExhaustions.Inc()
	slog.Warn("credential quota exhausted", slog.String("credential", id), slog.String("component", "credpool"))
	return nil
}

// sweepQuotaReset clears the exhaustion flag on every credential whose
// quota_exceeded_at falls on a calendar date strictly earlier than today.
// The comparison is by local date, not elapsed duration: the external quota
// resets at midnight, not 24 hours after exhaustion.
func (p *Pool) sweepQuotaReset(ctx context.Context) error {
	all, err := db.ListCredentials(ctx, p.dbc)
	if err != nil {
		return err
	}
	today := p.clock.Now()
	ty, tm, td := today.Date()
	for _, c := range all {
		if !c.QuotaExceeded || c.QuotaExceededAt.IsZero() {
			continue
		}
		qy, qm, qd := c.QuotaExceededAt.Local().Date()
		if qy > ty || (qy == ty && (qm > tm || (qm == tm && qd >= td))) {
			continue
		}
		if err := db.SetCredentialQuota(ctx, p.dbc, c.ID, false, time.Time{}); err != nil {
			return err
		}
		slog.Info("credential quota reset", slog.String("credential", c.ID), slog.String("component", "credpool"))
	}
	return nil
}

// EnsureFresh refreshes the credential's access token when its expiry has
// passed (with a small skew), persisting the new token triple immediately.
// The credential is updated in place so the caller can use it right away.
func (p *Pool) EnsureFresh(ctx context.Context, cred *db.Credential) error {
	if cred.AccessToken != "" && cred.TokenExpiry.After(p.clock.Now().Add(refreshSkew)) {
		return nil
	}
	if cred.RefreshToken == "" {
		return errors.New("credential has no refresh token")
	}
	oc := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     google.Endpoint,
	}
	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return err
	}
	newRefresh := tok.RefreshToken
	if newRefresh == cred.RefreshToken {
		newRefresh = "" // preserve stored token, avoid re-encrypting the same value
	}
	if err := db.SaveCredentialTokens(ctx, p.dbc, cred.ID, tok.AccessToken, newRefresh, tok.Expiry); err != nil {
		return err
	}
	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.TokenExpiry = tok.Expiry
	telemetry.TokenRefreshes.Inc()
	slog.Info("credential token refreshed", slog.String("credential", cred.ID), slog.String("component", "credpool"))
	return nil
}

// HTTPClient returns an HTTP client authorized as the credential. The token is
// pinned at call time; callers re-select and re-freshen per logical operation.
func (p *Pool) HTTPClient(ctx context.Context, cred *db.Credential) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		Expiry:      cred.TokenExpiry,
	}))
}
