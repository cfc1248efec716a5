// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeranaias/promptlab/internal/model"
)

// Code exporters replay the conversation against an OpenAI-compatible
// chat completions endpoint with the configuration's sampling parameters.

// snippetBaseURL is the endpoint baked into generated snippets.
const snippetBaseURL = "https://openrouter.ai/api/v1"

// wireMessage is the request-body message shape shared by all snippets.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireRequest is the chat completions request body shared by all snippets.
type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// buildWireRequest assembles the replayable request for a conversation.
func buildWireRequest(conv *model.Conversation, cfg *model.ModelConfiguration) wireRequest {
	msgs := requestMessages(conv, cfg)
	req := wireRequest{
		Model:       modelName(cfg),
		Messages:    make([]wireMessage, 0, len(msgs)),
		Temperature: 1.0,
	}
	if cfg != nil {
		req.Temperature = cfg.Temperature
		req.TopP = cfg.TopP
		req.MaxTokens = cfg.MaxTokens
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return req
}

// =============================================================================
// CURL
// =============================================================================

// CurlExporter emits a shell script that replays the conversation.
type CurlExporter struct{}

// Export renders the curl snippet.
func (e *CurlExporter) Export(conv *model.Conversation, cfg *model.ModelConfiguration) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	body, err := json.MarshalIndent(buildWireRequest(conv, cfg), "", "  ")
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString(fmt.Sprintf("# %s\n", conv.Title))
	sb.WriteString("# Exported from promptlab. Set OPENROUTER_API_KEY before running.\n\n")
	sb.WriteString(fmt.Sprintf("curl %s/chat/completions \\\n", snippetBaseURL))
	sb.WriteString("  -H \"Authorization: Bearer $OPENROUTER_API_KEY\" \\\n")
	sb.WriteString("  -H \"Content-Type: application/json\" \\\n")
	sb.WriteString("  -d '")
	// Single-quote the JSON body for the shell; embedded quotes need the
	// '\'' dance.
	sb.WriteString(strings.ReplaceAll(string(body), "'", `'\''`))
	sb.WriteString("'\n")

	return []byte(sb.String()), nil
}

// FileExtension returns ".sh".
func (e *CurlExporter) FileExtension() string { return ".sh" }

// MimeType returns the shell script MIME type.
func (e *CurlExporter) MimeType() string { return "text/x-shellscript" }

// =============================================================================
// PYTHON
// =============================================================================

// PythonExporter emits a requests-based Python script.
type PythonExporter struct{}

// Export renders the Python snippet.
func (e *PythonExporter) Export(conv *model.Conversation, cfg *model.ModelConfiguration) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	req := buildWireRequest(conv, cfg)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n", conv.Title))
	sb.WriteString("# Exported from promptlab.\n\n")
	sb.WriteString("import os\n\nimport requests\n\n")
	sb.WriteString(fmt.Sprintf("BASE_URL = %q\n\n", snippetBaseURL))

	sb.WriteString("payload = {\n")
	sb.WriteString(fmt.Sprintf("    \"model\": %s,\n", pyString(req.Model)))
	sb.WriteString("    \"messages\": [\n")
	for _, m := range req.Messages {
		sb.WriteString(fmt.Sprintf("        {\"role\": %s, \"content\": %s},\n",
			pyString(m.Role), pyString(m.Content)))
	}
	sb.WriteString("    ],\n")
	sb.WriteString(fmt.Sprintf("    \"temperature\": %g,\n", req.Temperature))
	if req.TopP != 0 {
		sb.WriteString(fmt.Sprintf("    \"top_p\": %g,\n", req.TopP))
	}
	if req.MaxTokens != 0 {
		sb.WriteString(fmt.Sprintf("    \"max_tokens\": %d,\n", req.MaxTokens))
	}
	sb.WriteString("}\n\n")

	sb.WriteString("response = requests.post(\n")
	sb.WriteString("    f\"{BASE_URL}/chat/completions\",\n")
	sb.WriteString("    headers={\"Authorization\": f\"Bearer {os.environ['OPENROUTER_API_KEY']}\"},\n")
	sb.WriteString("    json=payload,\n")
	sb.WriteString("    timeout=60,\n")
	sb.WriteString(")\n")
	sb.WriteString("response.raise_for_status()\n")
	sb.WriteString("print(response.json()[\"choices\"][0][\"message\"][\"content\"])\n")

	return []byte(sb.String()), nil
}

// FileExtension returns ".py".
func (e *PythonExporter) FileExtension() string { return ".py" }

// MimeType returns the Python MIME type.
func (e *PythonExporter) MimeType() string { return "text/x-python" }

// pyString renders a Go string as a Python string literal. Go's %q escaping
// is a valid Python double-quoted literal for the characters we emit.
func pyString(s string) string {
	return fmt.Sprintf("%q", s)
}

// =============================================================================
// GO
// =============================================================================

// GoExporter emits a standalone Go program.
type GoExporter struct{}

// Export renders the Go snippet.
func (e *GoExporter) Export(conv *model.Conversation, cfg *model.ModelConfiguration) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	req := buildWireRequest(conv, cfg)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("// %s\n", conv.Title))
	sb.WriteString("// Exported from promptlab.\n")
	sb.WriteString("package main\n\n")
	sb.WriteString("import (\n\t\"bytes\"\n\t\"encoding/json\"\n\t\"fmt\"\n\t\"io\"\n\t\"net/http\"\n\t\"os\"\n)\n\n")

	sb.WriteString(fmt.Sprintf("const baseURL = %q\n\n", snippetBaseURL))

	sb.WriteString("func main() {\n")
	sb.WriteString("\tpayload := map[string]any{\n")
	sb.WriteString(fmt.Sprintf("\t\t\"model\": %q,\n", req.Model))
	sb.WriteString("\t\t\"messages\": []map[string]string{\n")
	for _, m := range req.Messages {
		sb.WriteString(fmt.Sprintf("\t\t\t{\"role\": %q, \"content\": %q},\n", m.Role, m.Content))
	}
	sb.WriteString("\t\t},\n")
	sb.WriteString(fmt.Sprintf("\t\t\"temperature\": %g,\n", req.Temperature))
	if req.TopP != 0 {
		sb.WriteString(fmt.Sprintf("\t\t\"top_p\": %g,\n", req.TopP))
	}
	if req.MaxTokens != 0 {
		sb.WriteString(fmt.Sprintf("\t\t\"max_tokens\": %d,\n", req.MaxTokens))
	}
	sb.WriteString("\t}\n\n")

	sb.WriteString("\tbody, _ := json.Marshal(payload)\n")
	sb.WriteString("\treq, _ := http.NewRequest(\"POST\", baseURL+\"/chat/completions\", bytes.NewReader(body))\n")
	sb.WriteString("\treq.Header.Set(\"Authorization\", \"Bearer \"+os.Getenv(\"OPENROUTER_API_KEY\"))\n")
	sb.WriteString("\treq.Header.Set(\"Content-Type\", \"application/json\")\n\n")
	sb.WriteString("\tresp, err := http.DefaultClient.Do(req)\n")
	sb.WriteString("\tif err != nil {\n\t\tpanic(err)\n\t}\n")
	sb.WriteString("\tdefer resp.Body.Close()\n\n")
	sb.WriteString("\tout, _ := io.ReadAll(resp.Body)\n")
	sb.WriteString("\tfmt.Println(string(out))\n")
	sb.WriteString("}\n")

	return []byte(sb.String()), nil
}

// FileExtension returns ".go".
func (e *GoExporter) FileExtension() string { return ".go" }

// MimeType returns the Go source MIME type.
func (e *GoExporter) MimeType() string { return "text/x-go" }
