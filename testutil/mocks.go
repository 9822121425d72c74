package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// MockPlatformServer mocks the YouTube Data API surface the engine talks to.
// Point a client at it with option.WithEndpoint(m.URL + "/").
type MockPlatformServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockPlatformServer creates a new mock API server. Unhandled paths return 404.
func NewMockPlatformServer(t *testing.T) *MockPlatformServer {
	t.Helper()
	m := &MockPlatformServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockSearchLive answers live-broadcast discovery. Empty videoID means not live.
func (m *MockPlatformServer) MockSearchLive(videoID string) {
	m.Handlers["/youtube/v3/search"] = func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{}
		if videoID != "" {
			items = append(items, map[string]any{"id": map[string]string{"videoId": videoID}})
		}
		writeJSON(w, map[string]any{"items": items})
	}
}

// MockVideoChat answers the video lookup with the active chat id. Empty chatID
// means the video carries no live chat.
func (m *MockPlatformServer) MockVideoChat(chatID string) {
	m.Handlers["/youtube/v3/videos"] = func(w http.ResponseWriter, r *http.Request) {
		item := map[string]any{"liveStreamingDetails": map[string]string{}}
		if chatID != "" {
			item["liveStreamingDetails"] = map[string]string{"activeLiveChatId": chatID}
		}
		writeJSON(w, map[string]any{"items": []map[string]any{item}})
	}
}

// ChatItem is one mocked inbound chat message.
type ChatItem struct {
	ID         string
	AuthorID   string
	AuthorName string
	Text       string
}

// MockMessages serves a page of chat events with the given next cursor. The
// same handler covers cursor priming (part=id) and full listing.
func (m *MockPlatformServer) MockMessages(nextToken string, items ...ChatItem) {
	m.Handlers["/youtube/v3/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, map[string]any{"id": "sent-message-id"})
			return
		}
		out := make([]map[string]any, 0, len(items))
		for _, it := range items {
			out = append(out, map[string]any{
				"id": it.ID,
				"snippet": map[string]any{
					"displayMessage": it.Text,
					"publishedAt":    time.Now().UTC().Format(time.RFC3339Nano),
				},
				"authorDetails": map[string]any{
					"channelId":   it.AuthorID,
					"displayName": it.AuthorName,
				},
			})
		}
		writeJSON(w, map[string]any{
			"nextPageToken":         nextToken,
			"pollingIntervalMillis": 1000,
			"items":                 out,
		})
	}
}

// MockModerators serves the full moderator list in a single page.
func (m *MockPlatformServer) MockModerators(channelIDs ...string) {
	m.Handlers["/youtube/v3/liveChat/moderators"] = func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 0, len(channelIDs))
		for _, id := range channelIDs {
			items = append(items, map[string]any{
				"snippet": map[string]any{
					"moderatorDetails": map[string]string{"channelId": id},
				},
			})
		}
		writeJSON(w, map[string]any{"items": items})
	}
}

// MockBans accepts temporary ban inserts.
func (m *MockPlatformServer) MockBans() {
	m.Handlers["/youtube/v3/liveChat/bans"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "ban-id"})
	}
}

// MockChannelsMine answers the self-identity lookup.
func (m *MockPlatformServer) MockChannelsMine(channelID string) {
	m.Handlers["/youtube/v3/channels"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"items": []map[string]any{{"id": channelID}}})
	}
}

// MockQuotaError makes the given path fail with the platform's quota error so
// rotation behavior can be exercised.
func (m *MockPlatformServer) MockQuotaError(path string) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota exceeded","errors":[{"reason":"quotaExceeded","domain":"youtube.quota"}]}}`))
	}
}
