// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/promptlab/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter emits the full conversation plus configuration as one JSON
// document. No filtering; the output round-trips through import.
type JSONExporter struct{}

type jsonEnvelope struct {
	Conversation  *model.Conversation       `json:"conversation"`
	Configuration *model.ModelConfiguration `json:"configuration,omitempty"`
}

// Export converts a conversation to JSON.
func (e *JSONExporter) Export(conv *model.Conversation, cfg *model.ModelConfiguration) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}
	return json.MarshalIndent(jsonEnvelope{Conversation: conv, Configuration: cfg}, "", "  ")
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string { return ".json" }

// MimeType returns the JSON MIME type.
func (e *JSONExporter) MimeType() string { return "application/json" }
