package ytapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/onnwee/chatwarden/testutil"
	"github.com/onnwee/chatwarden/ytapi"
)

func newTestClient(t *testing.T, m *testutil.MockPlatformServer) *ytapi.Client {
	t.Helper()
	c, err := ytapi.New(context.Background(), &http.Client{Timeout: 5 * time.Second},
		option.WithEndpoint(m.URL+"/"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestFindLiveBroadcast(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockSearchLive("video-123")
	c := newTestClient(t, m)

	id, err := c.FindLiveBroadcast(context.Background(), "channel-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if id != "video-123" {
		t.Errorf("video id = %q", id)
	}
}

func TestFindLiveBroadcastNotLive(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockSearchLive("")
	c := newTestClient(t, m)

	id, err := c.FindLiveBroadcast(context.Background(), "channel-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id for offline channel, got %q", id)
	}
}

func TestLiveChatID(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockVideoChat("chat-abc")
	c := newTestClient(t, m)

	id, err := c.LiveChatID(context.Background(), "video-123")
	if err != nil {
		t.Fatalf("chat id: %v", err)
	}
	if id != "chat-abc" {
		t.Errorf("chat id = %q", id)
	}
}

func TestListMessages(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockMessages("cursor-2",
		testutil.ChatItem{ID: "m1", AuthorID: "a1", AuthorName: "Alice", Text: "hello"},
		testutil.ChatItem{ID: "m2", AuthorID: "a2", AuthorName: "Bob", Text: "!points"},
	)
	c := newTestClient(t, m)

	page, err := c.ListMessages(context.Background(), "chat-abc", "cursor-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.NextPageToken != "cursor-2" {
		t.Errorf("next token = %q", page.NextPageToken)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("messages = %d", len(page.Messages))
	}
	if page.Messages[0].AuthorName != "Alice" || page.Messages[1].Text != "!points" {
		t.Errorf("messages = %+v", page.Messages)
	}
	if page.PollingDelay != time.Second {
		t.Errorf("polling delay = %v", page.PollingDelay)
	}
}

func TestPrimeCursor(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockMessages("prime-cursor")
	c := newTestClient(t, m)

	cursor, err := c.PrimeCursor(context.Background(), "chat-abc")
	if err != nil {
		t.Fatalf("prime: %v", err)
	}
	if cursor != "prime-cursor" {
		t.Errorf("cursor = %q", cursor)
	}
}

func TestSendMessage(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockMessages("")
	c := newTestClient(t, m)

	id, err := c.SendMessage(context.Background(), "chat-abc", "hello chat")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "sent-message-id" {
		t.Errorf("message id = %q", id)
	}
}

func TestListModerators(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockModerators("mod-1", "mod-2")
	c := newTestClient(t, m)

	mods, err := c.ListModerators(context.Background(), "chat-abc")
	if err != nil {
		t.Fatalf("list moderators: %v", err)
	}
	if len(mods) != 2 || mods[0] != "mod-1" || mods[1] != "mod-2" {
		t.Errorf("moderators = %v", mods)
	}
}

func TestMyChannelID(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockChannelsMine("self-channel")
	c := newTestClient(t, m)

	id, err := c.MyChannelID(context.Background())
	if err != nil {
		t.Fatalf("my channel: %v", err)
	}
	if id != "self-channel" {
		t.Errorf("id = %q", id)
	}
}

func TestQuotaErrorSurfacesAsQuotaClass(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockQuotaError("/youtube/v3/search")
	c := newTestClient(t, m)

	_, err := c.FindLiveBroadcast(context.Background(), "channel-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !ytapi.IsQuotaExceeded(err) {
		t.Errorf("error not classified as quota: %v", err)
	}
}

func TestTimeoutUser(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockBans()
	c := newTestClient(t, m)

	if err := c.TimeoutUser(context.Background(), "chat-abc", "user-1", 60*time.Second); err != nil {
		t.Fatalf("timeout: %v", err)
	}
}
