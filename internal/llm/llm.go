// Package llm adapts Genkit text generation to the narrow call shapes the
// retrieval and answering services consume.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// generateTimeout bounds each model call. Streamed completions deliver
// chunks well within this window or the upstream is considered stuck.
const generateTimeout = 2 * time.Minute

func callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, generateTimeout)
}

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    Role
	Content string
}

// StreamCallback receives each text increment during streaming generation.
// Returning an error cancels the generation.
type StreamCallback func(ctx context.Context, chunk string) error

// Client generates text through a Genkit model.
type Client struct {
	g         *genkit.Genkit
	modelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	logger    *slog.Logger
}

// New creates a generation client for the named model.
func New(g *genkit.Genkit, modelName string, logger *slog.Logger) (*Client, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{g: g, modelName: modelName, logger: logger}, nil
}

// Generate runs a single-prompt completion and returns the full text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}
	return resp.Text(), nil
}

// Complete runs a chat completion over a system prompt and message history.
func (c *Client) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := genkit.Generate(ctx, c.g, c.completionOpts(system, messages)...)
	if err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}
	return resp.Text(), nil
}

// CompleteStream is Complete with per-chunk delivery. The returned string is
// the full response text. Callback errors and context cancellation stop the
// generation.
func (c *Client) CompleteStream(ctx context.Context, system string, messages []Message, cb StreamCallback) (string, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	opts := c.completionOpts(system, messages)
	opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		if cb == nil {
			return nil
		}
		return cb(ctx, chunk.Text())
	}))

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}
	return resp.Text(), nil
}

func (c *Client) completionOpts(system string, messages []Message) []ai.GenerateOption {
	aiMessages := make([]*ai.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			aiMessages = append(aiMessages, ai.NewModelTextMessage(msg.Content))
		default:
			aiMessages = append(aiMessages, ai.NewUserTextMessage(msg.Content))
		}
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(aiMessages...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	return opts
}
