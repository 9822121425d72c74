// Package oauth provides the authorization-code exchange that completes a
// credential and a background refresher that keeps every active credential's
// access token fresh. Refresh checks are jittered so many instances do not
// stampede the token endpoint at the same expiry.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/telemetry"
)

// Config builds the per-credential oauth2 config. Each credential carries its
// own client id/secret, so the config cannot be shared across the pool.
func Config(cred *db.Credential, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube", "https://www.googleapis.com/auth/youtube.force-ssl"},
	}
}

// AuthCodeURL returns the consent URL for completing a credential.
func AuthCodeURL(cred *db.Credential, redirectURI, state string) string {
	return Config(cred, redirectURI).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange swaps an authorization code for a token triple and persists it on
// the credential, making it usable by the pool.
func Exchange(ctx context.Context, dbc *sql.DB, cred *db.Credential, redirectURI, code string) error {
	tok, err := Config(cred, redirectURI).Exchange(ctx, code)
	if err != nil {
		return err
	}
	return db.SaveCredentialTokens(ctx, dbc, cred.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
}

// StartRefresher launches a goroutine that periodically sweeps all credentials
// and refreshes any whose remaining token lifetime falls within window.
// interval: how often to wake up and check. window: refresh when remaining
// lifetime <= window.
func StartRefresher(ctx context.Context, dbc *sql.DB, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			refreshDue(ctx, dbc, window)
		}
	}()
}

func refreshDue(ctx context.Context, dbc *sql.DB, window time.Duration) {
	creds, err := db.ListCredentials(ctx, dbc)
	if err != nil {
		slog.Warn("credential list failed", slog.Any("err", err), slog.String("component", "oauth_refresh"))
		return
	}
	for i := range creds {
		cred := &creds[i]
		if !cred.Active || cred.RefreshToken == "" {
			continue
		}
		if time.Until(cred.TokenExpiry) > window {
			continue
		}
		ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
		tok, err := Config(cred, "").TokenSource(ctx2, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
		cancel()
		if err != nil {
			slog.Warn("token refresh failed", slog.String("credential", cred.ID), slog.Any("err", err))
			continue
		}
		newRefresh := tok.RefreshToken
		if newRefresh == cred.RefreshToken {
			// Provider re-issued the same refresh token; keep the stored one.
			newRefresh = ""
		}
		if err := db.SaveCredentialTokens(ctx, dbc, cred.ID, tok.AccessToken, newRefresh, tok.Expiry); err != nil {
			slog.Warn("token persist failed", slog.String("credential", cred.ID), slog.Any("err", err))
			continue
		}
		telemetry.TokenRefreshes.Inc()
		slog.Info("token refreshed", slog.String("credential", cred.ID))
	}
}
