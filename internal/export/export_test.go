// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jeranaias/promptlab/internal/model"
)

func fixtureConversation(t *testing.T) (*model.Conversation, *model.ModelConfiguration) {
	t.Helper()
	cfg, err := model.NewModelConfiguration("creative", "openrouter", "anthropic/claude-3.5-sonnet", 1.2, 0.9, 2048)
	if err != nil {
		t.Fatalf("NewModelConfiguration() error = %v", err)
	}
	cfg.SystemPrompt = "You are terse."

	conv := model.NewConversation("user_1", cfg.ID)
	conv.AppendUser("Summarize 'it's complicated' in one word")
	conv.AppendAssistant("Complicated.")
	return conv, cfg
}

func TestForFormat(t *testing.T) {
	for _, format := range Formats() {
		if _, err := ForFormat(format); err != nil {
			t.Errorf("ForFormat(%q) error = %v", format, err)
		}
	}
	if _, err := ForFormat("docx"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ForFormat(docx) error = %v, want ErrUnknownFormat", err)
	}
}

func TestMarkdownExport(t *testing.T) {
	conv, cfg := fixtureConversation(t)
	out, err := (&MarkdownExporter{}).Export(conv, cfg)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	text := string(out)
	for _, want := range []string{
		"model: anthropic/claude-3.5-sonnet",
		"**Temperature**: 1.2",
		"[User]",
		"[Assistant]",
		"Complicated.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown export missing %q", want)
		}
	}
}

func TestJSONExportRoundTrips(t *testing.T) {
	conv, cfg := fixtureConversation(t)
	out, err := (&JSONExporter{}).Export(conv, cfg)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var envelope struct {
		Conversation  *model.Conversation       `json:"conversation"`
		Configuration *model.ModelConfiguration `json:"configuration"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if envelope.Conversation.ID != conv.ID {
		t.Errorf("conversation ID = %q, want %q", envelope.Conversation.ID, conv.ID)
	}
	if envelope.Configuration.Temperature != 1.2 {
		t.Errorf("configuration temperature = %g, want 1.2", envelope.Configuration.Temperature)
	}
}

func TestCurlExport(t *testing.T) {
	conv, cfg := fixtureConversation(t)
	out, err := (&CurlExporter{}).Export(conv, cfg)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	text := string(out)
	for _, want := range []string{
		"curl https://openrouter.ai/api/v1/chat/completions",
		`"temperature": 1.2`,
		`"max_tokens": 2048`,
		"OPENROUTER_API_KEY",
		`"role": "system"`, // system prompt from the configuration
	} {
		if !strings.Contains(text, want) {
			t.Errorf("curl export missing %q", want)
		}
	}
}

func TestCurlExportEscapesSingleQuotes(t *testing.T) {
	conv, cfg := fixtureConversation(t)
	out, err := (&CurlExporter{}).Export(conv, cfg)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	// The user message contains an apostrophe; it must be shell-escaped.
	if !strings.Contains(string(out), `'\''`) {
		t.Error("curl export did not escape single quotes in message content")
	}
}

func TestPythonExport(t *testing.T) {
	conv, cfg := fixtureConversation(t)
	out, err := (&PythonExporter{}).Export(conv, cfg)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	text := string(out)
	for _, want := range []string{
		"import requests",
		`"model": "anthropic/claude-3.5-sonnet"`,
		`"temperature": 1.2`,
		"chat/completions",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("python export missing %q", want)
		}
	}
}

func TestGoExport(t *testing.T) {
	conv, cfg := fixtureConversation(t)
	out, err := (&GoExporter{}).Export(conv, cfg)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	text := string(out)
	for _, want := range []string{
		"package main",
		`"temperature": 1.2`,
		"OPENROUTER_API_KEY",
		"chat/completions",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("go export missing %q", want)
		}
	}
}

func TestExportEmptyConversationRejected(t *testing.T) {
	conv := model.NewConversation("user_1", "cfg_1")
	for _, format := range Formats() {
		exporter, err := ForFormat(format)
		if err != nil {
			t.Fatalf("ForFormat(%q) error = %v", format, err)
		}
		if _, err := exporter.Export(conv, nil); err == nil {
			t.Errorf("%s exporter accepted empty conversation", format)
		}
	}
}
