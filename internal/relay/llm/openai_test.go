package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func completionBody(content, refusal string) string {
	msg := map[string]any{"role": "assistant", "content": content}
	if refusal != "" {
		msg["refusal"] = refusal
	}
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "test-model",
		"choices": []any{map[string]any{"index": 0, "message": msg, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(body)
}

func newTestServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete_SendsSchemaAndReturnsContent(t *testing.T) {
	var seen map[string]any
	srv := newTestServer(t, http.StatusOK, completionBody(`{"message_type":"chat"}`, ""), &seen)

	m := New(Config{
		BaseURL:        srv.URL + "/v1",
		Model:          "test-model",
		Timeout:        5 * time.Second,
		ResponseSchema: json.RawMessage(`{"type":"object"}`),
	})

	got, err := m.Complete(context.Background(), Request{Message: "status of api", ConversationID: "conv-9"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Content != `{"message_type":"chat"}` {
		t.Errorf("content = %q", got.Content)
	}
	if got.PlainText {
		t.Error("PlainText should be false")
	}
	if got.Usage == nil || got.Usage.TotalTokens != 15 {
		t.Errorf("usage = %#v", got.Usage)
	}

	if seen["model"] != "test-model" {
		t.Errorf("model = %v", seen["model"])
	}
	format, _ := seen["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Errorf("response_format = %v", seen["response_format"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	system, _ := msgs[0].(map[string]any)
	if !strings.Contains(system["content"].(string), "conv-9") {
		t.Error("system prompt should carry the conversation id")
	}
	user, _ := msgs[1].(map[string]any)
	if user["content"] != "status of api" {
		t.Errorf("user message = %v", user["content"])
	}
}

func TestComplete_NoSchemaOmitsResponseFormat(t *testing.T) {
	var seen map[string]any
	srv := newTestServer(t, http.StatusOK, completionBody("hi", ""), &seen)

	m := New(Config{BaseURL: srv.URL + "/v1"})
	if _, err := m.Complete(context.Background(), Request{Message: "hello"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, ok := seen["response_format"]; ok {
		t.Error("response_format should be omitted without a schema")
	}
}

func TestComplete_RefusalIsPlainText(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, completionBody("", "I can't help with that."), nil)

	got, err := New(Config{BaseURL: srv.URL + "/v1"}).Complete(context.Background(), Request{Message: "x"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !got.PlainText || got.Content != "I can't help with that." {
		t.Errorf("unexpected completion %#v", got)
	}
}

func TestComplete_Errors(t *testing.T) {
	errBody := `{"error":{"message":"slow down","type":"rate_limit"}}`
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limit", http.StatusTooManyRequests, errBody, ErrRateLimit},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server"}}`, ErrTransport},
		{"no choices", http.StatusOK, `{"id":"x","choices":[]}`, ErrEmptyResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, tc.status, tc.body, nil)
			_, err := New(Config{BaseURL: srv.URL + "/v1"}).Complete(context.Background(), Request{Message: "x"})
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestComplete_UnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url + "/v1", Timeout: time.Second}).Complete(context.Background(), Request{Message: "x"})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestSystemPrompt_ListsKinds(t *testing.T) {
	p := systemPrompt("", "c1")
	for _, want := range []string{"dry_agent", "start_with_timeout", `"c1"`} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %s", want)
		}
	}
}
