package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = openai.GPT4o

// NewAPIClient builds the OpenAI client shared by chat and speech.
// An empty baseURL keeps the public endpoint.
func NewAPIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// OpenAIClient streams chat completions.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates a streamer for model.
func NewOpenAIClient(client *openai.Client, model string, logger *slog.Logger) *OpenAIClient {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{client: client, model: model, logger: logger}
}

// Stream sends prompt and yields content deltas until the model finishes.
// Any failure is yielded once, wrapped in ErrStream, and ends the sequence.
func (c *OpenAIClient) Stream(ctx context.Context, prompt Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		messages := make([]openai.ChatCompletionMessage, 0, len(prompt.Turns))
		for _, t := range prompt.Turns {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    string(t.Role),
				Content: t.Content,
			})
		}

		stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
			Stream:   true,
		})
		if err != nil {
			yield("", fmt.Errorf("%w: create stream: %w", ErrStream, err))
			return
		}
		defer stream.Close()

		chunks := 0
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				c.logger.Debug("assistant stream finished", "model", c.model, "chunks", chunks)
				return
			}
			if err != nil {
				yield("", fmt.Errorf("%w: receive: %w", ErrStream, err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			chunks++
			if !yield(delta, nil) {
				return
			}
		}
	}
}
