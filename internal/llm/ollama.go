package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultOllamaURL   = "http://127.0.0.1:11434"
	defaultOllamaModel = "llama3"
)

// OllamaConfig holds connection settings for a local Ollama server.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// OllamaConfigFromEnv reads OLLAMA_BASE_URL / OLLAMA_MODEL; unset values stay
// empty and are filled by NewOllama.
func OllamaConfigFromEnv() OllamaConfig {
	return OllamaConfig{
		BaseURL: os.Getenv("OLLAMA_BASE_URL"),
		Model:   os.Getenv("OLLAMA_MODEL"),
	}
}

// OllamaClient talks to Ollama's native /api/chat endpoint with streaming off
// and format "json", so the reply is a single JSON document.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// ErrOllamaNotRunning is returned when the server cannot be reached at all.
var ErrOllamaNotRunning = errors.New("llm: ollama is not running")

// NewOllama creates an OllamaClient, filling zero config values with defaults.
//
// Expectations:
//   - Defaults BaseURL to http://127.0.0.1:11434 and Model to llama3
//   - Strips trailing slashes from BaseURL
//   - Sets no client-side timeout; callers bound requests with ctx
func NewOllama(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	return &OllamaClient{
		baseURL:    normalizeBaseURL(cfg.BaseURL),
		model:      cfg.Model,
		httpClient: &http.Client{},
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []chatMsg `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// Chat sends a system + user prompt and returns the assistant's text and token usage.
func (c *OllamaClient) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	log.Printf("[OLLAMA] chat model=%s prompt_chars=%d", c.model, len(system)+len(user))
	start := time.Now()

	body, err := json.Marshal(ollamaChatRequest{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", Usage{}, fmt.Errorf("llm: ollama request: %w", ctx.Err())
		}
		return "", Usage{}, fmt.Errorf("%w: %v", ErrOllamaNotRunning, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: read response: %w", err)
	}

	var chatResp ollamaChatResponse
	if jsonErr := json.Unmarshal(respBody, &chatResp); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return "", Usage{}, fmt.Errorf("llm: unmarshal response: %w", jsonErr)
	}
	if resp.StatusCode != http.StatusOK {
		msg := chatResp.Error
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return "", Usage{}, &StatusError{Backend: "ollama", StatusCode: resp.StatusCode, Body: msg}
	}
	if chatResp.Error != "" {
		return "", Usage{}, fmt.Errorf("llm: ollama error: %s", chatResp.Error)
	}

	usage := Usage{
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
		TotalTokens:      chatResp.PromptEvalCount + chatResp.EvalCount,
	}
	log.Printf("[OLLAMA] reply chars=%d tokens=%d/%d in %s", len(chatResp.Message.Content),
		usage.PromptTokens, usage.CompletionTokens, time.Since(start).Round(time.Millisecond))
	return chatResp.Message.Content, usage, nil
}
