// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxChunkSize is the maximum allowed size for a single SSE event.
const MaxChunkSize = 64 * 1024

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is one delta event from the upstream SSE stream.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`

	// Usage arrives on the final chunk when stream_options.include_usage
	// was requested.
	Usage *Usage `json:"usage,omitempty"`
}

// Content returns the delta content of the first choice.
func (c *StreamChunk) Content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// FinishReason returns the first choice's finish reason, if any.
func (c *StreamChunk) FinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// StreamCallback is invoked for each chunk as it arrives.
type StreamCallback func(chunk StreamChunk)

// StreamResult is the accumulated outcome of a completed stream.
type StreamResult struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage

	// FirstTokenTime is the latency to the first content chunk.
	FirstTokenTime time.Duration
	TotalTime      time.Duration
}

// StreamError wraps a mid-stream failure, preserving partial content so the
// caller can still persist what arrived.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates an SSE reader over r.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next event, returning its type and data.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	var total int

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimSpace(line[5:])
			total += len(data)
			if total > MaxChunkSize {
				return "", nil, fmt.Errorf("SSE event too large: %d bytes", total)
			}
			dataLines = append(dataLines, data)
		}
		// id:, retry:, and comment lines are ignored.
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming completion, invoking callback per chunk.
// The returned result carries the accumulated content and token usage. On a
// mid-stream failure the error is a *StreamError holding partial content.
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest, callback StreamCallback) (*StreamResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	req.Stream = true
	req.StreamOptions = &StreamOptions{IncludeUsage: true}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedStreamingClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return nil, mapErrorResponse(resp.StatusCode, body)
	}

	return c.processStream(ctx, req, resp.Body, callback)
}

// processStream consumes the SSE stream, accumulating into a StreamResult.
func (c *Client) processStream(ctx context.Context, req *ChatRequest, body io.Reader, callback StreamCallback) (*StreamResult, error) {
	reader := NewSSEReader(body)
	result := &StreamResult{Model: req.Model}
	var content strings.Builder
	start := time.Now()
	var firstToken time.Time

	finish := func() *StreamResult {
		result.Content = content.String()
		result.TotalTime = time.Since(start)
		if !firstToken.IsZero() {
			result.FirstTokenTime = firstToken.Sub(start)
		}
		if result.Usage.TotalTokens == 0 {
			// Upstream sent no usage chunk; estimate so billing never
			// records a free call.
			result.Usage = estimateUsage(req.Messages, result.Content)
		}
		return result
	}

	for {
		select {
		case <-ctx.Done():
			return nil, &StreamError{Partial: content.String(), Err: ctx.Err()}
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return finish(), nil
			}
			return nil, &StreamError{Partial: content.String(), Err: err}
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return finish(), nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks rather than aborting the stream.
			continue
		}

		if c := chunk.Content(); c != "" {
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			content.WriteString(c)
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if fr := chunk.FinishReason(); fr != "" {
			result.FinishReason = fr
		}
		if chunk.Usage != nil {
			result.Usage = *chunk.Usage
		}

		if callback != nil {
			callback(chunk)
		}
	}
}

// estimateUsage approximates token counts when the upstream omits them.
// The 4-chars-per-token heuristic tracks English text closely enough for
// quota accounting.
func estimateUsage(messages []ChatMessage, completion string) Usage {
	promptChars := 0
	for _, m := range messages {
		promptChars += len(m.Content)
	}
	u := Usage{
		PromptTokens:     promptChars/4 + 1,
		CompletionTokens: len(completion)/4 + 1,
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// =============================================================================
// INTERFACE CHECKS
// =============================================================================

var _ Chatter = (*Client)(nil)

// IsRetryableStreamError reports whether a stream failure is worth retrying
// from scratch. Context cancellation and 4xx responses are not.
func IsRetryableStreamError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return errors.Is(err, ErrRateLimited)
}
