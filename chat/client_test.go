package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m3rciful/charmbot/sessions"
)

func TestReplySendsPersonaAndWindow(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "oi 😏"}}},
		})
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:     srv.URL,
		APIKey:      "key-1",
		Model:       "gpt-4o-mini",
		Temperature: 0.9,
		Persona:     "persona prompt",
	}, srv.Client())

	window := []sessions.Turn{
		{Role: "user", Text: "oi"},
		{Role: "assistant", Text: "olá"},
	}
	reply, err := c.Reply(context.Background(), window, "como você está?")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "oi 😏" {
		t.Fatalf("reply = %q", reply)
	}

	if got.Model != "gpt-4o-mini" || got.Temperature != 0.9 {
		t.Fatalf("request fields: %+v", got)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("expected system + 2 window + user, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "persona prompt" {
		t.Fatalf("persona must lead: %+v", got.Messages[0])
	}
	if last := got.Messages[3]; last.Role != "user" || last.Content != "como você está?" {
		t.Fatalf("user text must close the prompt: %+v", last)
	}
}

func TestReplyTruncatesLongCompletions(t *testing.T) {
	long := strings.Repeat("a", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Content: long}}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxReplyRune: 10}, srv.Client())
	reply, err := c.Reply(context.Background(), nil, "oi")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != strings.Repeat("a", 10)+"…" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestReplyHTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, srv.Client())
	if _, err := c.Reply(context.Background(), nil, "oi"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 0); got != "héllo" {
		t.Fatalf("no budget means no truncation, got %q", got)
	}
	if got := Truncate("héllo", 3); got != "hél…" {
		t.Fatalf("rune-aware truncation, got %q", got)
	}
	if got := Truncate("oi", 10); got != "oi" {
		t.Fatalf("short strings untouched, got %q", got)
	}
}
