// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func chatHandler(t *testing.T, content string, promptTokens, completionTokens int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", auth)
		}
		fmt.Fprintf(w, `{
			"id": "cmpl-1",
			"model": "test-model",
			"choices": [{"message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": %d, "completion_tokens": %d, "total_tokens": %d}
		}`, content, promptTokens, completionTokens, promptTokens+completionTokens)
	}
}

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "hello from upstream", 12, 34))
	defer srv.Close()

	client := NewClient("test-key").WithBaseURL(srv.URL)
	resp, err := client.Chat(context.Background(), &ChatRequest{
		Model:       "test-model",
		Messages:    []ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content() != "hello from upstream" {
		t.Errorf("Content() = %q", resp.Content())
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 34 {
		t.Errorf("Usage = %+v, want 12/34", resp.Usage)
	}
}

func TestChatNotConfigured(t *testing.T) {
	client := NewClient("")
	_, err := client.Chat(context.Background(), &ChatRequest{Model: "m"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Chat() error = %v, want ErrNotConfigured", err)
	}
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthFailed},
		{"payment required", http.StatusPaymentRequired, ErrInsufficientCredits},
		{"model not found", http.StatusNotFound, ErrModelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"message": "nope"},
				})
			}))
			defer srv.Close()

			client := NewClient("test-key").WithBaseURL(srv.URL)
			_, err := client.Chat(context.Background(), &ChatRequest{Model: "m"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Chat() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":{"message":"upstream down"}}`)
			return
		}
		chatHandler(t, "recovered", 1, 1)(w, r)
	}))
	defer srv.Close()

	client := NewClient("test-key").WithBaseURL(srv.URL)
	resp, err := client.Chat(context.Background(), &ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content() != "recovered" {
		t.Errorf("Content() = %q, want recovered", resp.Content())
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream called %d times, want 3", got)
	}
}

func TestChatDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	client := NewClient("test-key").WithBaseURL(srv.URL)
	_, err := client.Chat(context.Background(), &ChatRequest{Model: "m"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Chat() error = %v, want ErrAuthFailed", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream called %d times, want 1", got)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("request did not set stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"model\":\"test-model\",\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient("test-key").WithBaseURL(srv.URL)

	var chunks []string
	result, err := client.ChatStream(context.Background(), &ChatRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(chunk StreamChunk) {
		if c := chunk.Content(); c != "" {
			chunks = append(chunks, c)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}

	if result.Content != "Hello world" {
		t.Errorf("result.Content = %q, want %q", result.Content, "Hello world")
	}
	if result.FinishReason != "stop" {
		t.Errorf("result.FinishReason = %q, want stop", result.FinishReason)
	}
	if result.Usage.TotalTokens != 7 {
		t.Errorf("result.Usage.TotalTokens = %d, want 7", result.Usage.TotalTokens)
	}
	if len(chunks) != 2 {
		t.Errorf("received %d content chunks, want 2", len(chunks))
	}
}

func TestChatStreamEstimatesUsageWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"four char chunks here\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient("test-key").WithBaseURL(srv.URL)
	result, err := client.ChatStream(context.Background(), &ChatRequest{
		Model:    "m",
		Messages: []ChatMessage{{Role: "user", Content: "a prompt"}},
	}, nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if result.Usage.TotalTokens == 0 {
		t.Error("Usage.TotalTokens = 0, want estimated > 0")
	}
}

func TestSSEReader(t *testing.T) {
	input := "event: message\ndata: {\"a\":1}\n\n: comment\ndata: [DONE]\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	eventType, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if eventType != "message" {
		t.Errorf("eventType = %q, want message", eventType)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("data = %q", data)
	}

	_, data, err = reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if string(data) != "[DONE]" {
		t.Errorf("data = %q, want [DONE]", data)
	}
}

func TestMockStreamMatchesChat(t *testing.T) {
	mock := NewMock("streamed reply")

	var got strings.Builder
	result, err := mock.ChatStream(context.Background(), &ChatRequest{Model: "m"}, func(chunk StreamChunk) {
		got.WriteString(chunk.Content())
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if got.String() != "streamed reply" {
		t.Errorf("accumulated = %q, want %q", got.String(), "streamed reply")
	}
	if result.Content != "streamed reply" {
		t.Errorf("result.Content = %q", result.Content)
	}
	if len(mock.Calls()) != 1 {
		t.Errorf("Calls() = %d, want 1", len(mock.Calls()))
	}
}

func TestRetryableTransportErrors(t *testing.T) {
	reset := fmt.Errorf("request failed: %w", &url.Error{
		Op:  "Post",
		URL: DefaultBaseURL + "/chat/completions",
		Err: errors.New("read tcp 10.0.0.1:443: connection reset by peer"),
	})
	if !isRetryable(reset) {
		t.Error("connection reset should be retried")
	}

	canceled := fmt.Errorf("request failed: %w", &url.Error{
		Op:  "Post",
		URL: DefaultBaseURL + "/chat/completions",
		Err: context.Canceled,
	})
	if isRetryable(canceled) {
		t.Error("a canceled request must not be retried")
	}

	if isRetryable(ErrAuthFailed) {
		t.Error("auth failures are final")
	}
}
