// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"
	"sync"
)

// Mock is a scripted Chatter for tests. Responses are returned in order;
// when the script runs out the last response repeats.
type Mock struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     []*ChatRequest
	err       error
}

// MockResponse is one scripted completion.
type MockResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// NewMock creates a mock that always answers with content.
func NewMock(content string) *Mock {
	return &Mock{responses: []MockResponse{{
		Content:          content,
		PromptTokens:     10,
		CompletionTokens: 20,
	}}}
}

// Script replaces the response sequence.
func (m *Mock) Script(responses ...MockResponse) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	return m
}

// Fail makes every call return err.
func (m *Mock) Fail(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls returns the requests received so far.
func (m *Mock) Calls() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ChatRequest(nil), m.calls...)
}

func (m *Mock) next(req *ChatRequest) (MockResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return MockResponse{}, m.err
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// Chat implements Chatter.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r, err := m.next(req)
	if err != nil {
		return nil, err
	}
	resp := &ChatResponse{
		ID:    "mock-completion",
		Model: req.Model,
		Usage: Usage{
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.PromptTokens + r.CompletionTokens,
		},
	}
	resp.Choices = make([]struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	}, 1)
	resp.Choices[0].Message = ChatMessage{Role: "assistant", Content: r.Content}
	resp.Choices[0].FinishReason = "stop"
	return resp, nil
}

// ChatStream implements Chatter, emitting the scripted content as
// word-sized chunks.
func (m *Mock) ChatStream(ctx context.Context, req *ChatRequest, callback StreamCallback) (*StreamResult, error) {
	r, err := m.next(req)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(r.Content, " ")
	for _, w := range words {
		select {
		case <-ctx.Done():
			return nil, &StreamError{Err: ctx.Err()}
		default:
		}
		if callback != nil && w != "" {
			var chunk StreamChunk
			chunk.Model = req.Model
			chunk.Choices = make([]struct {
				Delta struct {
					Content string `json:"content"`
					Role    string `json:"role,omitempty"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			}, 1)
			chunk.Choices[0].Delta.Content = w
			callback(chunk)
		}
	}

	return &StreamResult{
		Content:      r.Content,
		Model:        req.Model,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.PromptTokens + r.CompletionTokens,
		},
	}, nil
}

var _ Chatter = (*Mock)(nil)
