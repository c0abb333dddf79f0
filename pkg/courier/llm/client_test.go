package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/courierbot/courier/pkg/courier/config"
)

func newStubServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(config.ProviderConfig{
		Name:    "stub",
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, nil)
	return srv, client
}

func TestChat(t *testing.T) {
	t.Parallel()
	_, client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q, want bearer token", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q, want gpt-4o-mini", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(req.Messages))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"content": "  hello!  "},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
		})
	})

	resp, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "hi"},
	}, Options{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello!" {
		t.Errorf("content = %q, want trimmed %q", resp.Content, "hello!")
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("total tokens = %d, want 13", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", resp.FinishReason)
	}
}

func TestChatProviderModelWins(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "pinned-model" {
			t.Errorf("model = %q, want the provider-pinned model", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.ProviderConfig{
		Name:    "pinning",
		BaseURL: srv.URL,
		APIKey:  "k",
		Model:   "pinned-model",
	}, nil)

	if _, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}},
		Options{Model: "session-model"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestChatAPIError(t *testing.T) {
	t.Parallel()
	_, client := newStubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	if err == nil {
		t.Fatal("Chat succeeded on a 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %q, want it to carry the status", err)
	}
}

func TestChatMissingAPIKey(t *testing.T) {
	t.Parallel()
	client := NewClient(config.ProviderConfig{Name: "nokey"}, nil)
	if _, err := client.Chat(context.Background(), nil, Options{}); err == nil {
		t.Error("Chat succeeded without an API key")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry([]config.ProviderConfig{
		{Name: "openai"},
		{Name: "local"},
	}, nil)

	if _, ok := reg.Client("openai"); !ok {
		t.Error("openai client missing")
	}
	if _, ok := reg.Client("ghost"); ok {
		t.Error("unknown provider returned a client")
	}
}
