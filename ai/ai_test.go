package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func completionServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[0].Content, "at most 200 characters") {
			t.Errorf("prompt missing length instruction: %q", req.Messages[0].Content)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnswer(t *testing.T) {
	srv := completionServer(t, "Paris.", http.StatusOK)
	c := &Client{Endpoint: srv.URL, Model: "test-model"}

	got, err := c.Answer(context.Background(), "capital of France?", 200)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got != "Paris." {
		t.Errorf("answer = %q", got)
	}
}

func TestAnswerTruncatesOverlongReply(t *testing.T) {
	long := strings.Repeat("x", 500)
	srv := completionServer(t, long, http.StatusOK)
	c := &Client{Endpoint: srv.URL}

	got, err := c.Answer(context.Background(), "q?", 200)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(got) != 200 {
		t.Errorf("len(answer) = %d, want 200", len(got))
	}
}

func TestAnswerErrorStatus(t *testing.T) {
	srv := completionServer(t, "", http.StatusInternalServerError)
	c := &Client{Endpoint: srv.URL}

	if _, err := c.Answer(context.Background(), "q?", 200); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestAnswerSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	t.Cleanup(srv.Close)
	c := &Client{Endpoint: srv.URL, APIKey: "sk-test"}

	if _, err := c.Answer(context.Background(), "q?", 100); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestAnswerMissingEndpoint(t *testing.T) {
	c := &Client{}
	if _, err := c.Answer(context.Background(), "q?", 100); err == nil {
		t.Error("expected error without endpoint")
	}
}
