// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/promptlab/internal/model"
)

// ErrUnknownFormat is returned for formats no exporter handles.
var ErrUnknownFormat = errors.New("unknown export format")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a conversation and its model configuration into a
// target format.
type Exporter interface {
	// Export returns the rendered content.
	Export(conv *model.Conversation, cfg *model.ModelConfiguration) ([]byte, error)

	// FileExtension returns the file extension (e.g. ".md").
	FileExtension() string

	// MimeType returns the MIME type of the rendered content.
	MimeType() string
}

// Formats lists the supported format names.
func Formats() []string {
	return []string{"markdown", "json", "curl", "python", "go"}
}

// ForFormat returns the exporter for a format name.
func ForFormat(format string) (Exporter, error) {
	switch format {
	case "markdown", "md":
		return &MarkdownExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	case "curl":
		return &CurlExporter{}, nil
	case "python", "py":
		return &PythonExporter{}, nil
	case "go":
		return &GoExporter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// validate rejects conversations an exporter cannot render.
func validate(conv *model.Conversation) error {
	if conv == nil {
		return errors.New("conversation is nil")
	}
	if len(conv.Messages) == 0 {
		return errors.New("conversation has no messages")
	}
	return nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// requestMessages builds the replayable message list: the configuration's
// system prompt (when set) followed by the conversation history.
func requestMessages(conv *model.Conversation, cfg *model.ModelConfiguration) []*model.Message {
	msgs := make([]*model.Message, 0, len(conv.Messages)+1)
	if cfg != nil && cfg.SystemPrompt != "" {
		msgs = append(msgs, model.NewSystemMessage(cfg.SystemPrompt))
	}
	msgs = append(msgs, conv.Messages...)
	return msgs
}

// modelName resolves the model identifier used in snippets.
func modelName(cfg *model.ModelConfiguration) string {
	if cfg != nil && cfg.Model != "" {
		return cfg.Model
	}
	return "openrouter/auto"
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
