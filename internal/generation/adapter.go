// Package generation builds create/update prompts for the diet planner and
// submits them to an external text-generation capability.
package generation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/haricheung/dietplan/internal/genlog"
	"github.com/haricheung/dietplan/internal/llm"
)

// Capability is the external text-generation service: render template with
// the named arguments and return the generated text.
type Capability interface {
	Invoke(ctx context.Context, template string, args map[string]string) (string, error)
}

// CapabilityFunc adapts a plain function to Capability.
type CapabilityFunc func(ctx context.Context, template string, args map[string]string) (string, error)

func (f CapabilityFunc) Invoke(ctx context.Context, template string, args map[string]string) (string, error) {
	return f(ctx, template, args)
}

const systemPrompt = `You are a diet planning service. Output ONLY a single valid JSON object with the requested fields.
No markdown, no prose, no code fences.`

// ChatCapability renders the template locally and sends it as the user turn
// of a single chat call.
type ChatCapability struct {
	chat llm.Chatter
}

// NewChatCapability wraps any chat backend (OpenAI-compatible or Ollama).
func NewChatCapability(chat llm.Chatter) *ChatCapability {
	return &ChatCapability{chat: chat}
}

// Invoke renders template and returns the assistant text unmodified.
func (c *ChatCapability) Invoke(ctx context.Context, template string, args map[string]string) (string, error) {
	prompt, err := Render(template, args)
	if err != nil {
		return "", err
	}
	text, _, err := c.chat.Chat(ctx, systemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Adapter produces fully bound prompts and performs exactly one capability
// call per Generate. It never retries and imposes no timeout of its own.
type Adapter struct {
	capability Capability
	log        *genlog.Log // nil-safe
}

// NewAdapter creates an Adapter. gl may be nil.
func NewAdapter(capability Capability, gl *genlog.Log) *Adapter {
	return &Adapter{capability: capability, log: gl}
}

// Generate builds the prompt for mode and returns the raw generated text.
//
// Expectations:
//   - Calls the capability exactly once per invocation
//   - Returns capability errors wrapped with "generation:" and no text
//   - Returns prompt-building errors without calling the capability
//   - Records every capability call in the generation log when one is set
func (a *Adapter) Generate(ctx context.Context, mode Mode, req Request, nextID int) (string, error) {
	tmpl, args, err := BuildPrompt(mode, req, nextID)
	if err != nil {
		return "", err
	}

	log.Printf("[GEN] %s prompt next_id=%d args=%v", mode, nextID, args)
	start := time.Now()
	text, err := a.capability.Invoke(ctx, tmpl, args)
	elapsed := time.Since(start)

	a.log.Record(genlog.Call{
		Mode:     string(mode),
		NextID:   nextID,
		Template: tmpl,
		Args:     args,
		Response: text,
		Err:      err,
		Elapsed:  elapsed,
	})

	if err != nil {
		log.Printf("[GEN] %s failed after %s: %v", mode, elapsed.Round(time.Millisecond), err)
		return "", fmt.Errorf("generation: %w", err)
	}
	log.Printf("[GEN] %s returned %d chars in %s", mode, len(text), elapsed.Round(time.Millisecond))
	return text, nil
}
