// Package responder turns an assistant token stream into text, sentence
// segments and synthesized audio.
package responder

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/csirt-labs/internal/agent"
	"github.com/ashureev/csirt-labs/internal/domain"
	"github.com/ashureev/csirt-labs/internal/metrics"
	"github.com/ashureev/csirt-labs/internal/segment"
	"golang.org/x/sync/semaphore"
)

// FallbackNotice is committed when the stream fails before producing any text.
const FallbackNotice = "申し訳ありません。AIの応答を取得できませんでした。もう一度お試しください。"

// Event types delivered to a Sink.
const (
	EventToken   = "token"
	EventSegment = "segment"
	EventWarning = "warning"
)

// Event is a progress notification for the client.
type Event struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Seq      int    `json:"seq,omitempty"`
	HasAudio bool   `json:"has_audio,omitempty"`
}

// Generator streams assistant tokens for a history.
type Generator interface {
	Respond(ctx context.Context, history agent.Recent) iter.Seq2[string, error]
}

// Synthesizer converts one sentence into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Format() string
}

// Request describes one response run.
type Request struct {
	Episode uint64
	History agent.Recent
	// Sink receives progress events. Calls are serialized. May be nil.
	Sink func(Event)
	// Audio receives synthesized segments in segment order. May be nil.
	Audio func(domain.AudioSegment)
}

// Result is the outcome of a run.
type Result struct {
	Text        string
	Partial     bool
	Err         error
	Segments    int
	Synthesized int
}

// Streamer runs responses. It is safe for concurrent use.
type Streamer struct {
	gen         Generator
	tts         Synthesizer
	concurrency int64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a streamer that synthesizes up to concurrency segments at once.
func New(gen Generator, tts Synthesizer, concurrency int, logger *slog.Logger, m *metrics.Metrics) *Streamer {
	if concurrency <= 0 {
		concurrency = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{gen: gen, tts: tts, concurrency: int64(concurrency), logger: logger, metrics: m}
}

type job struct {
	seg   domain.AudioSegment
	audio []byte
	err   error
	done  chan struct{}
}

// Run drains the assistant stream for req and returns once every segment has
// been synthesized and handed to req.Audio. The stream is never cancelled
// midway, even if ctx is.
func (s *Streamer) Run(ctx context.Context, req Request) Result {
	ctx = context.WithoutCancel(ctx)

	var sinkMu sync.Mutex
	emit := func(e Event) {
		if req.Sink == nil {
			return
		}
		sinkMu.Lock()
		defer sinkMu.Unlock()
		req.Sink(e)
	}

	sem := semaphore.NewWeighted(s.concurrency)
	order := make(chan *job, 32)
	delivered := make(chan struct{})
	var res Result

	go func() {
		defer close(delivered)
		for j := range order {
			<-j.done
			if j.err != nil {
				emit(Event{Type: EventWarning, Text: "音声合成に失敗しました: " + j.seg.Text, Seq: j.seg.Seq})
				emit(Event{Type: EventSegment, Text: j.seg.Text, Seq: j.seg.Seq})
				continue
			}
			j.seg.Audio = j.audio
			res.Synthesized++
			if req.Audio != nil {
				req.Audio(j.seg)
			}
			emit(Event{Type: EventSegment, Text: j.seg.Text, Seq: j.seg.Seq, HasAudio: true})
		}
	}()

	seq := 0
	dispatch := func(sentence string) {
		seq++
		s.metrics.SegmentCut()
		j := &job{
			seg: domain.AudioSegment{
				Seq:     seq,
				Episode: req.Episode,
				Text:    sentence,
				Format:  s.tts.Format(),
			},
			done: make(chan struct{}),
		}
		go func() {
			defer close(j.done)
			if err := sem.Acquire(ctx, 1); err != nil {
				j.err = err
				return
			}
			defer sem.Release(1)
			j.audio, j.err = s.tts.Synthesize(ctx, j.seg.Text)
		}()
		order <- j
	}

	var (
		text      strings.Builder
		streamErr error
	)
	tokens := func(yield func(string) bool) {
		for tok, err := range s.gen.Respond(ctx, req.History) {
			if err != nil {
				streamErr = err
				return
			}
			text.WriteString(tok)
			emit(Event{Type: EventToken, Text: tok})
			if !yield(tok) {
				return
			}
		}
	}
	for sentence := range segment.Segments(tokens) {
		dispatch(sentence)
	}

	res.Text = text.String()
	if streamErr != nil {
		res.Partial = true
		res.Err = streamErr
		s.logger.Error("assistant stream failed", "error", streamErr, "episode", req.Episode, "received_len", len(res.Text))
		emit(Event{Type: EventWarning, Text: "AIの応答が途中で中断されました"})
	}
	if strings.TrimSpace(res.Text) == "" {
		res.Text = FallbackNotice
		dispatch(FallbackNotice)
	}

	close(order)
	<-delivered
	res.Segments = seq
	return res
}
