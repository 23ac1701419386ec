package agent

import (
	"context"
	"iter"
	"strconv"
	"testing"

	"github.com/ashureev/csirt-labs/internal/chat"
	"github.com/ashureev/csirt-labs/internal/domain"
)

type recordingStreamer struct {
	got Prompt
}

func (r *recordingStreamer) Stream(_ context.Context, p Prompt) iter.Seq2[string, error] {
	r.got = p
	return func(yield func(string, error) bool) {
		yield("ok", nil)
	}
}

func TestServiceRespondUsesWindow(t *testing.T) {
	t.Parallel()

	h := chat.NewHistory()
	for i := range 14 {
		h.Append(domain.NewMessage(domain.SenderUser, strconv.Itoa(i)))
	}

	rec := &recordingStreamer{}
	svc := NewService(rec, 0, nil)
	if svc.Window() != chat.DefaultWindow {
		t.Fatalf("expected default window %d, got %d", chat.DefaultWindow, svc.Window())
	}

	var out string
	for tok, err := range svc.Respond(context.Background(), h) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out += tok
	}
	if out != "ok" {
		t.Fatalf("unexpected output %q", out)
	}

	// Persona plus the last ten messages.
	if len(rec.got.Turns) != 11 {
		t.Fatalf("expected 11 turns, got %d", len(rec.got.Turns))
	}
	if rec.got.Turns[1].Content != "4" || rec.got.Turns[10].Content != "13" {
		t.Fatalf("unexpected window: first=%q last=%q", rec.got.Turns[1].Content, rec.got.Turns[10].Content)
	}
}
