package agent

import (
	"context"
	"iter"
)

// Streamer produces assistant tokens for a prompt.
// The returned sequence is finite and may only be ranged over once.
type Streamer interface {
	Stream(ctx context.Context, prompt Prompt) iter.Seq2[string, error]
}

// Ensure OpenAIClient implements Streamer.
var _ Streamer = (*OpenAIClient)(nil)
