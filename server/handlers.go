package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chatwarden/config"
	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/engine"
	"github.com/onnwee/chatwarden/oauth"
)

// Handlers carries the shared dependencies for all HTTP endpoints.
type Handlers struct {
	dbc *sql.DB
	cfg *config.Config
	eng *engine.Engine
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", slog.Any("err", err), slog.String("component", "http"))
	}
}

// HandleHealthz reports liveness: the process is up and the database answers.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.dbc.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus reports the engine aggregate state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Status())
}

// HandleCheck triggers an immediate live-check sweep across all channels.
func (h *Handlers) HandleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.eng.CheckAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "checked"})
}

// HandlePause stops all sessions and suppresses restarts until resume.
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.eng.Pause(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// HandleResume lifts the pause.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.eng.Resume(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// HandleChannelsList returns all registered channels.
func (h *Handlers) HandleChannelsList(w http.ResponseWriter, r *http.Request) {
	channels, err := db.ListChannels(r.Context(), h.dbc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type item struct {
		ID                string `json:"id"`
		Title             string `json:"title"`
		ModerationEnabled bool   `json:"moderation_enabled"`
	}
	out := make([]item, 0, len(channels))
	for _, c := range channels {
		out = append(out, item{ID: c.ID, Title: c.Title, ModerationEnabled: c.ModerationEnabled})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleChannelDispatcher routes /channels/{id}/{action}.
func (h *Handlers) HandleChannelDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/channels/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "missing channel id", http.StatusBadRequest)
		return
	}
	switch action {
	case "start":
		h.handleChannelStart(w, r, id)
	case "stop":
		h.handleChannelStop(w, r, id)
	case "moderation":
		h.handleChannelModeration(w, r, id)
	case "leaderboard":
		h.handleChannelLeaderboard(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// handleChannelStart registers the channel and runs an immediate live check.
// Registration is idempotent; a check on a channel that is not broadcasting
// succeeds with no session.
func (h *Handlers) handleChannelStart(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ch := &db.Channel{ID: id, Title: r.URL.Query().Get("title")}
	if err := db.UpsertChannel(r.Context(), h.dbc, ch); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.eng.CheckChannel(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, h.eng.Status())
}

func (h *Handlers) handleChannelStop(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.eng.StopChannel(id)
	writeJSON(w, http.StatusOK, h.eng.Status())
}

// handleChannelModeration toggles the channel's content policy via
// ?enabled=true|false.
func (h *Handlers) handleChannelModeration(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	enabled := r.URL.Query().Get("enabled") == "true"
	if err := db.SetModerationEnabled(r.Context(), h.dbc, id, enabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": id, "moderation_enabled": enabled})
}

// handleChannelLeaderboard serves the same ranked list the top/tophours chat
// commands produce; ?by=hours switches to watch time.
func (h *Handlers) handleChannelLeaderboard(w http.ResponseWriter, r *http.Request, id string) {
	by := "points"
	if r.URL.Query().Get("by") == "hours" {
		by = "watch_minutes"
	}
	text, err := h.eng.Economy().Leaderboard(r.Context(), id, by)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channel": id, "by": by, "leaderboard": text})
}

// HandleOAuthStart redirects to the provider consent page for the credential
// named by ?credential=. The credential id rides along as the state parameter.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("credential")
	if id == "" {
		http.Error(w, "missing credential parameter", http.StatusBadRequest)
		return
	}
	cred, err := db.GetCredential(r.Context(), h.dbc, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cred == nil {
		http.Error(w, "unknown credential", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, oauth.AuthCodeURL(cred, h.cfg.GoogleRedirectURI, cred.ID), http.StatusFound)
}

// HandleOAuthCallback completes the code exchange and persists the token
// triple on the credential identified by the state parameter.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}
	cred, err := db.GetCredential(r.Context(), h.dbc, state)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cred == nil {
		http.Error(w, "unknown credential", http.StatusNotFound)
		return
	}
	if err := oauth.Exchange(r.Context(), h.dbc, cred, h.cfg.GoogleRedirectURI, code); err != nil {
		slog.Error("oauth exchange failed", slog.String("credential", cred.ID), slog.Any("err", err))
		http.Error(w, "exchange failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "credential": cred.ID})
}
