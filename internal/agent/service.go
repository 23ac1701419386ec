package agent

import (
	"context"
	"iter"
	"log/slog"

	"github.com/ashureev/csirt-labs/internal/chat"
	"github.com/ashureev/csirt-labs/internal/domain"
)

// Recent is the read side of a chat history.
type Recent interface {
	Recent(n int) []domain.Message
}

// Service builds prompts from chat history and streams replies.
type Service struct {
	streamer Streamer
	window   int
	logger   *slog.Logger
}

// NewService creates a service reading at most window messages of context.
func NewService(streamer Streamer, window int, logger *slog.Logger) *Service {
	if window <= 0 {
		window = chat.DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{streamer: streamer, window: window, logger: logger}
}

// Window returns the number of messages given to the model.
func (s *Service) Window() int {
	return s.window
}

// Respond streams a reply to the most recent messages of history.
func (s *Service) Respond(ctx context.Context, history Recent) iter.Seq2[string, error] {
	recent := history.Recent(s.window)
	s.logger.Debug("assistant prompt built", "context_messages", len(recent))
	return s.streamer.Stream(ctx, BuildPrompt(recent))
}
