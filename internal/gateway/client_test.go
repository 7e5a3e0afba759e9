package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChatReturnsChoiceContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %s, want test-model", req.Model)
		}
		if req.Stream {
			t.Error("stream should be false")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "test-model")
	got, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello" {
		t.Errorf("Chat = %q, want %q", got, "hello")
	}
}

// TestChatOllamaStyleResponse verifies the single-message response shape is
// accepted alongside the choices array.
func TestChatOllamaStyleResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "local hello"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "test-model")
	got, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "local hello" {
		t.Errorf("Chat = %q, want %q", got, "local hello")
	}
}

func TestChatSendsSchemaAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want Bearer secret", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Format == nil {
			t.Error("expected format field when schema provided")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "{}"},
		})
	}))
	defer srv.Close()

	schema := &Schema{
		Type:       "object",
		Properties: map[string]SchemaProperty{"verdict": {Type: "boolean"}},
		Required:   []string{"verdict"},
	}

	c := New(srv.URL, "secret", "test-model")
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.3, schema); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

// TestChatRetriesRateLimit verifies a 429 is retried and the retry can
// succeed.
func TestChatRetriesRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "recovered"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "test-model")
	got, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "recovered" {
		t.Errorf("Chat = %q, want recovered", got)
	}
	if calls != 2 {
		t.Errorf("server called %d times, want 2", calls)
	}
}

func TestChatTimeoutMapsToErrTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client gives up; otherwise Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New(srv.URL, "", "test-model")
	_, err := c.Chat(ctx, []Message{{Role: "user", Content: "hi"}}, 0.7, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Chat = %v, want ErrTimeout", err)
	}
}

func TestChatMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json at all"},
		{"no content", `{"choices":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, "", "test-model")
			_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, nil)
			var malformed *MalformedResponseError
			if !errors.As(err, &malformed) {
				t.Errorf("Chat = %v, want MalformedResponseError", err)
			}
		})
	}
}

func TestChatNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "test-model")
	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, nil)
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}
