package oauth

import (
	"net/url"
	"strings"
	"testing"

	"github.com/onnwee/chatwarden/db"
)

func TestAuthCodeURLCarriesCredentialState(t *testing.T) {
	cred := &db.Credential{ID: "cred-1", ClientID: "client-abc", ClientSecret: "shh"}
	raw := AuthCodeURL(cred, "https://example.com/callback", cred.ID)

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "client-abc" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("state") != "cred-1" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline (refresh token required)", q.Get("access_type"))
	}
	if q.Get("redirect_uri") != "https://example.com/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if !strings.Contains(q.Get("scope"), "youtube") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestConfigIsPerCredential(t *testing.T) {
	a := Config(&db.Credential{ClientID: "a", ClientSecret: "sa"}, "r")
	b := Config(&db.Credential{ClientID: "b", ClientSecret: "sb"}, "r")
	if a.ClientID == b.ClientID {
		t.Error("configs must carry their own credential's client id")
	}
}
