// Package ytapi wraps the YouTube Data API surface the engine needs: live
// broadcast discovery, cursor-based chat paging, message insert/delete,
// moderator listing, and temporary bans. Callers supply an authorized
// *http.Client (built per credential by the pool); test servers inject an
// alternate endpoint through option.ClientOption.
package ytapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// Message is one inbound chat event in arrival order.
type Message struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Text        string
	PublishedAt time.Time
	IsOwner     bool
	IsModerator bool
}

// MessagePage is one fetched page of chat events plus the cursor for the next fetch.
type MessagePage struct {
	Messages      []Message
	NextPageToken string
	PollingDelay  time.Duration
}

// Client wraps a youtube.Service for one authorized credential.
type Client struct {
	svc *yt.Service
}

// New builds a Client over the given authorized HTTP client. Extra options
// (custom endpoint, no-auth) are honored for tests.
func New(ctx context.Context, hc *http.Client, opts ...option.ClientOption) (*Client, error) {
	all := append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	svc, err := yt.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// FindLiveBroadcast searches for an active broadcast on the channel and
// returns its video id. Returns ("", nil) when the channel is not live.
func (c *Client) FindLiveBroadcast(ctx context.Context, channelID string) (string, error) {
	res, err := c.svc.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(res.Items) == 0 || res.Items[0].Id == nil {
		return "", nil
	}
	return res.Items[0].Id.VideoId, nil
}

// LiveChatID resolves a live video to its active chat-stream handle.
// Returns ("", nil) when the video has no active chat.
func (c *Client) LiveChatID(ctx context.Context, videoID string) (string, error) {
	res, err := c.svc.Videos.List([]string{"liveStreamingDetails"}).
		Id(videoID).
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(res.Items) == 0 || res.Items[0].LiveStreamingDetails == nil {
		return "", nil
	}
	return res.Items[0].LiveStreamingDetails.ActiveLiveChatId, nil
}

// PrimeCursor issues a minimal id-only request whose sole purpose is to obtain
// a pagination cursor, so the loop never replays chat history accumulated
// before the engine joined.
func (c *Client) PrimeCursor(ctx context.Context, chatID string) (string, error) {
	res, err := c.svc.LiveChatMessages.List(chatID, []string{"id"}).
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return res.NextPageToken, nil
}

// ListMessages fetches the page of chat events after the given cursor.
func (c *Client) ListMessages(ctx context.Context, chatID, pageToken string) (*MessagePage, error) {
	call := c.svc.LiveChatMessages.List(chatID, []string{"id", "snippet", "authorDetails"})
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	page := &MessagePage{
		NextPageToken: res.NextPageToken,
		PollingDelay:  time.Duration(res.PollingIntervalMillis) * time.Millisecond,
	}
	for _, it := range res.Items {
		if it.Snippet == nil || it.AuthorDetails == nil {
			continue
		}
		m := Message{
			ID:          it.Id,
			AuthorID:    it.AuthorDetails.ChannelId,
			AuthorName:  it.AuthorDetails.DisplayName,
			Text:        it.Snippet.DisplayMessage,
			IsOwner:     it.AuthorDetails.IsChatOwner,
			IsModerator: it.AuthorDetails.IsChatModerator,
		}
		if t, err := time.Parse(time.RFC3339Nano, it.Snippet.PublishedAt); err == nil {
			m.PublishedAt = t
		}
		page.Messages = append(page.Messages, m)
	}
	return page, nil
}

// SendMessage inserts a text message into the chat stream and returns its id.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	msg := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			LiveChatId: chatID,
			Type:       "textMessageEvent",
			TextMessageDetails: &yt.LiveChatTextMessageDetails{
				MessageText: text,
			},
		},
	}
	res, err := c.svc.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return res.Id, nil
}

// DeleteMessage removes a chat message by id.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.svc.LiveChatMessages.Delete(messageID).Context(ctx).Do()
}

// ListModerators pages through the full moderator list for a chat stream and
// returns the moderators' channel ids.
func (c *Client) ListModerators(ctx context.Context, chatID string) ([]string, error) {
	var out []string
	pageToken := ""
	for {
		call := c.svc.LiveChatModerators.List(chatID, []string{"snippet"}).MaxResults(50)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return nil, err
		}
		for _, it := range res.Items {
			if it.Snippet != nil && it.Snippet.ModeratorDetails != nil {
				out = append(out, it.Snippet.ModeratorDetails.ChannelId)
			}
		}
		if res.NextPageToken == "" {
			return out, nil
		}
		pageToken = res.NextPageToken
	}
}

// TimeoutUser imposes a temporary ban on a user within the chat stream.
func (c *Client) TimeoutUser(ctx context.Context, chatID, userChannelID string, d time.Duration) error {
	ban := &yt.LiveChatBan{
		Snippet: &yt.LiveChatBanSnippet{
			LiveChatId:         chatID,
			Type:               "temporary",
			BanDurationSeconds: uint64(d.Seconds()),
			BannedUserDetails: &yt.ChannelProfileDetails{
				ChannelId: userChannelID,
			},
		},
	}
	_, err := c.svc.LiveChatBans.Insert([]string{"snippet"}, ban).Context(ctx).Do()
	return err
}

// MyChannelID resolves the identity the credential acts as, for self-filtering.
func (c *Client) MyChannelID(ctx context.Context) (string, error) {
	res, err := c.svc.Channels.List([]string{"id"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(res.Items) == 0 {
		return "", fmt.Errorf("own channel not found")
	}
	return res.Items[0].Id, nil
}
