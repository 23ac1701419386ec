// Package playback plays synthesized segments one at a time, in order.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/csirt-labs/internal/domain"
	"github.com/ashureev/csirt-labs/internal/metrics"
)

// DefaultErrorDelay is how long the queue waits after a failed segment.
const DefaultErrorDelay = 100 * time.Millisecond

// Player plays one segment and returns once playback has ended or failed.
type Player interface {
	Play(ctx context.Context, seg domain.AudioSegment) error
}

// Queue is a FIFO of segments with at most one segment playing at a time.
// Enqueue never interrupts the current segment; the next one starts only after
// the current one completes or fails.
type Queue struct {
	player     Player
	errorDelay time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	items   []domain.AudioSegment
	current *domain.AudioSegment
	playing bool
	idle    chan struct{}
}

// NewQueue creates an idle queue. errorDelay <= 0 selects DefaultErrorDelay.
func NewQueue(player Player, errorDelay time.Duration, logger *slog.Logger, m *metrics.Metrics) *Queue {
	if errorDelay <= 0 {
		errorDelay = DefaultErrorDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		player:     player,
		errorDelay: errorDelay,
		logger:     logger,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		idle:       idle,
	}
}

// Enqueue appends seg and starts playback if the queue was idle.
func (q *Queue) Enqueue(seg domain.AudioSegment) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return
	}
	q.items = append(q.items, seg)
	q.metrics.QueueDelta(1)
	if q.playing {
		return
	}
	q.playing = true
	q.idle = make(chan struct{})
	go q.drain(q.idle)
}

func (q *Queue) drain(idle chan struct{}) {
	defer close(idle)
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.ctx.Err() != nil {
			q.playing = false
			q.current = nil
			q.mu.Unlock()
			return
		}
		seg := q.items[0]
		q.items = q.items[1:]
		q.current = &seg
		q.mu.Unlock()
		q.metrics.QueueDelta(-1)

		if err := q.player.Play(q.ctx, seg); err != nil {
			q.metrics.PlaybackFinished(metrics.OutcomeError)
			q.logger.Warn("segment playback failed", "seq", seg.Seq, "episode", seg.Episode, "error", err)
			select {
			case <-time.After(q.errorDelay):
			case <-q.ctx.Done():
			}
			continue
		}
		q.metrics.PlaybackFinished(metrics.OutcomeEnded)
	}
}

// Len returns the number of segments waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Playing reports whether a segment is currently playing.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// Current returns the segment being played, if any.
func (q *Queue) Current() (domain.AudioSegment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return domain.AudioSegment{}, false
	}
	return *q.current, true
}

// Clear drops every waiting segment and returns how many were dropped.
// The segment already playing is left to finish.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.metrics.QueueDelta(-n)
	return n
}

// Wait blocks until the queue is idle or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops playback and discards waiting segments.
func (q *Queue) Close() {
	q.Clear()
	q.cancel()
}
