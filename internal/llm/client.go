package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Chatter is the single-turn chat call shared by every backend.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, Usage, error)
}

// Client is an OpenAI-compatible LLM client.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	label          string // tier name used in log lines and errors
	enableThinking bool   // "enable_thinking":true in the request body
	jsonMode       bool   // response_format={"type":"json_object"}
	httpClient     *http.Client
}

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a raw OPENAI_BASE_URL value so the path is never doubled when the
// client appends "/chat/completions" itself.
//
// Expectations:
//   - Strips a trailing "/chat/completions" suffix
//   - Strips a trailing slash without "/chat/completions"
//   - Strips trailing slash AND "/chat/completions" when both are present
//   - Returns the URL unchanged when neither suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// NewTier creates a Client for a named tier (llm.tier in dietplan.yaml,
// "DIETPLAN" by default). For each config key it first tries {prefix}_{KEY};
// if unset it falls back to the shared OPENAI_{KEY}. An empty prefix reads
// only the shared vars.
//
// Example: prefix "DIETPLAN" resolves credentials as:
//
//	DIETPLAN_API_KEY        → OPENAI_API_KEY
//	DIETPLAN_BASE_URL       → OPENAI_BASE_URL
//	DIETPLAN_MODEL          → OPENAI_MODEL
//	DIETPLAN_ENABLE_THINKING (no fallback; defaults false)
//
// Expectations:
//   - Uses {prefix}_API_KEY / _BASE_URL / _MODEL when set and non-empty
//   - Falls back to OPENAI_* vars for any unset tier-specific var
//   - Sets enableThinking when {prefix}_ENABLE_THINKING == "true"
//   - Sets jsonMode when {prefix}_JSON_MODE == "true"
//   - Empty prefix reads only OPENAI_*
func NewTier(prefix string) *Client {
	get := func(suffix, fallback string) string {
		if prefix != "" {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				return v
			}
		}
		return os.Getenv(fallback)
	}
	enableThinking := prefix != "" && os.Getenv(prefix+"_ENABLE_THINKING") == "true"
	jsonMode := prefix != "" && os.Getenv(prefix+"_JSON_MODE") == "true"
	label := prefix
	if label == "" {
		label = "LLM"
	}
	return &Client{
		baseURL:        normalizeBaseURL(get("BASE_URL", "OPENAI_BASE_URL")),
		apiKey:         get("API_KEY", "OPENAI_API_KEY"),
		model:          get("MODEL", "OPENAI_MODEL"),
		label:          label,
		enableThinking: enableThinking,
		jsonMode:       jsonMode,
		httpClient:     &http.Client{},
	}
}

// Validate reports which connection settings are missing.
//
// Expectations:
//   - Returns nil when base URL, API key and model are all non-empty
//   - Lists every missing field comma-separated in one error
//   - Error message includes the tier label
func (c *Client) Validate() error {
	var missing []string
	if c.baseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.apiKey == "" {
		missing = append(missing, "API key")
	}
	if c.model == "" {
		missing = append(missing, "model")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("llm: %s tier is missing %s", c.label, strings.Join(missing, ", "))
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMsg       `json:"messages"`
	EnableThinking bool            `json:"enable_thinking,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StatusError is a non-200 reply from a chat backend.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: %s HTTP %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed later (429 or 5xx).
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Chat sends a system + user prompt and returns the assistant's text and
// token usage. Prompts are not logged here; the generation log keeps them.
//
// Expectations:
//   - Posts model, system and user messages to {baseURL}/chat/completions
//   - Adds response_format json_object when JSON mode is on
//   - Returns *StatusError for a non-200 reply
//   - Returns an error for an "error" field or an empty choices list
func (c *Client) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	log.Printf("[%s] chat model=%s prompt_chars=%d json_mode=%v", c.label, c.model, len(system)+len(user), c.jsonMode)
	start := time.Now()

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		EnableThinking: c.enableThinking,
	}
	if c.jsonMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, &StatusError{Backend: c.label, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", Usage{}, fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("llm: no choices in response")
	}

	content := chatResp.Choices[0].Message.Content
	log.Printf("[%s] reply chars=%d tokens=%d/%d in %s", c.label, len(content),
		chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens, time.Since(start).Round(time.Millisecond))
	return content, chatResp.Usage, nil
}

// StripThinkBlocks removes all <think>...</think> blocks from s, as emitted by
// reasoning models ahead of the plan JSON.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// Unclosed block: strip from opening tag to end of string.
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes a surrounding markdown fence (```json ... ```) and any
// <think> blocks from model output.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		// Remove opening fence line
		idx := strings.Index(s, "\n")
		if idx != -1 {
			s = s[idx+1:]
		}
		// Remove closing fence
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
