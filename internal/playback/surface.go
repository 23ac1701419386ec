package playback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/csirt-labs/internal/domain"
	"github.com/coder/websocket"
)

// DefaultAckTimeout bounds how long a segment may play before it is abandoned.
const DefaultAckTimeout = 60 * time.Second

var (
	// ErrNoSurface is returned when no client is attached to play audio.
	ErrNoSurface = errors.New("no playback surface attached")
	// ErrSurfaceGone is returned when the client disconnects mid-segment.
	ErrSurfaceGone = errors.New("playback surface disconnected")
	// ErrAckTimeout is returned when the client never reports the segment as ended.
	ErrAckTimeout = errors.New("playback acknowledgement timed out")
	// ErrClientPlayback is returned when the client reports a playback error.
	ErrClientPlayback = errors.New("client playback failed")
)

// Conn is the part of a websocket connection the surface needs.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Frame is exchanged with the browser.
// Server -> client: type "play". Client -> server: "ended" or "error".
type Frame struct {
	Type   string `json:"type"`
	ID     int64  `json:"id"`
	Seq    int    `json:"seq,omitempty"`
	Text   string `json:"text,omitempty"`
	Format string `json:"format,omitempty"`
	Audio  string `json:"audio,omitempty"`
	Rate   string `json:"rate,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SurfacePlayer plays segments on a connected browser page and waits for the
// page to report each one as ended.
type SurfacePlayer struct {
	ackTimeout time.Duration
	rate       string
	logger     *slog.Logger

	mu      sync.Mutex
	conn    Conn
	nextID  int64
	pending map[int64]chan error
}

// NewSurfacePlayer creates a player with no attached client.
func NewSurfacePlayer(ackTimeout time.Duration, rate string, logger *slog.Logger) *SurfacePlayer {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SurfacePlayer{
		ackTimeout: ackTimeout,
		rate:       rate,
		logger:     logger,
		pending:    make(map[int64]chan error),
	}
}

// Attach makes conn the active surface, closing any previous one.
func (p *SurfacePlayer) Attach(conn Conn) {
	p.mu.Lock()
	prev := p.conn
	p.conn = conn
	p.mu.Unlock()

	if prev != nil && prev != conn {
		p.failPending(ErrSurfaceGone)
		if err := prev.Close(websocket.StatusNormalClosure, "surface replaced"); err != nil {
			p.logger.Debug("failed to close replaced surface", "error", err)
		}
	}
}

// Detach removes conn if it is still the active surface.
func (p *SurfacePlayer) Detach(conn Conn) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.mu.Unlock()
	p.failPending(ErrSurfaceGone)
}

// Attached reports whether a client is connected.
func (p *SurfacePlayer) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Play sends seg to the client and blocks until it is acknowledged.
func (p *SurfacePlayer) Play(ctx context.Context, seg domain.AudioSegment) error {
	p.mu.Lock()
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return ErrNoSurface
	}
	p.nextID++
	id := p.nextID
	done := make(chan error, 1)
	p.pending[id] = done
	p.mu.Unlock()
	defer p.forget(id)

	data, err := json.Marshal(Frame{
		Type:   "play",
		ID:     id,
		Seq:    seg.Seq,
		Text:   seg.Text,
		Format: seg.Format,
		Audio:  base64.StdEncoding.EncodeToString(seg.Audio),
		Rate:   p.rate,
	})
	if err != nil {
		return fmt.Errorf("marshal play frame: %w", err)
	}

	timer := time.NewTimer(p.ackTimeout)
	defer timer.Stop()

	writeCtx, cancel := context.WithTimeout(ctx, p.ackTimeout)
	err = conn.Write(writeCtx, websocket.MessageText, data)
	cancel()
	if err != nil {
		return fmt.Errorf("write play frame: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMessage processes one client frame.
func (p *SurfacePlayer) HandleMessage(data []byte) error {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode surface frame: %w", err)
	}
	switch f.Type {
	case "ended":
		p.resolve(f.ID, nil)
	case "error":
		msg := f.Error
		if msg == "" {
			msg = "unknown"
		}
		p.resolve(f.ID, fmt.Errorf("%w: %s", ErrClientPlayback, msg))
	case "ping":
	default:
		return fmt.Errorf("unknown surface frame type %q", f.Type)
	}
	return nil
}

// Serve attaches ws and reads acknowledgements until the connection ends.
func (p *SurfacePlayer) Serve(ctx context.Context, ws *websocket.Conn) {
	p.Attach(ws)
	defer p.Detach(ws)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				p.logger.Debug("playback surface closed by client")
			} else if ctx.Err() == nil {
				p.logger.Warn("playback surface read error", "error", err)
			}
			return
		}
		if err := p.HandleMessage(data); err != nil {
			p.logger.Warn("ignoring surface frame", "error", err)
		}
	}
}

func (p *SurfacePlayer) resolve(id int64, err error) {
	p.mu.Lock()
	done, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if ok {
		done <- err
	}
}

func (p *SurfacePlayer) forget(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *SurfacePlayer) failPending(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[int64]chan error)
	p.mu.Unlock()
	for _, done := range pending {
		done <- err
	}
}
