package playback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/csirt-labs/internal/domain"
	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	frames chan Frame
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan Frame, 16)}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		return err
	}
	c.frames <- f
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func ack(t *testing.T, p *SurfacePlayer, typ string, id int64) {
	t.Helper()
	data, _ := json.Marshal(Frame{Type: typ, ID: id, Error: "NotAllowedError"})
	if err := p.HandleMessage(data); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
}

func TestSurfacePlayerNoSurface(t *testing.T) {
	t.Parallel()

	p := NewSurfacePlayer(time.Second, "", nil)
	if err := p.Play(context.Background(), seg(1)); !errors.Is(err, ErrNoSurface) {
		t.Fatalf("expected ErrNoSurface, got %v", err)
	}
}

func TestSurfacePlayerEndedAck(t *testing.T) {
	t.Parallel()

	p := NewSurfacePlayer(time.Second, "1.5", nil)
	conn := newFakeConn()
	p.Attach(conn)

	errc := make(chan error, 1)
	go func() {
		errc <- p.Play(context.Background(), domain.AudioSegment{Seq: 3, Text: "はい。", Audio: []byte("mp3"), Format: "mp3"})
	}()

	f := <-conn.frames
	if f.Type != "play" || f.Seq != 3 || f.Format != "mp3" || f.Rate != "1.5" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	audio, _ := base64.StdEncoding.DecodeString(f.Audio)
	if string(audio) != "mp3" {
		t.Fatalf("unexpected audio payload %q", audio)
	}

	ack(t, p, "ended", f.ID)
	if err := <-errc; err != nil {
		t.Fatalf("expected clean playback, got %v", err)
	}
}

func TestSurfacePlayerErrorAck(t *testing.T) {
	t.Parallel()

	p := NewSurfacePlayer(time.Second, "", nil)
	conn := newFakeConn()
	p.Attach(conn)

	errc := make(chan error, 1)
	go func() { errc <- p.Play(context.Background(), seg(1)) }()

	f := <-conn.frames
	ack(t, p, "error", f.ID)
	if err := <-errc; !errors.Is(err, ErrClientPlayback) {
		t.Fatalf("expected ErrClientPlayback, got %v", err)
	}
}

func TestSurfacePlayerAckTimeout(t *testing.T) {
	t.Parallel()

	p := NewSurfacePlayer(30*time.Millisecond, "", nil)
	p.Attach(newFakeConn())

	if err := p.Play(context.Background(), seg(1)); !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected ErrAckTimeout, got %v", err)
	}
}

func TestSurfacePlayerDetachFailsPending(t *testing.T) {
	t.Parallel()

	p := NewSurfacePlayer(time.Second, "", nil)
	conn := newFakeConn()
	p.Attach(conn)

	errc := make(chan error, 1)
	go func() { errc <- p.Play(context.Background(), seg(1)) }()
	<-conn.frames

	p.Detach(conn)
	if err := <-errc; !errors.Is(err, ErrSurfaceGone) {
		t.Fatalf("expected ErrSurfaceGone, got %v", err)
	}
	if p.Attached() {
		t.Fatal("expected no surface after detach")
	}
}

func TestSurfacePlayerAttachReplacesPrevious(t *testing.T) {
	t.Parallel()

	p := NewSurfacePlayer(time.Second, "", nil)
	first := newFakeConn()
	second := newFakeConn()
	p.Attach(first)
	p.Attach(second)

	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Fatal("expected replaced surface to be closed")
	}

	// A stale detach must not remove the new surface.
	p.Detach(first)
	if !p.Attached() {
		t.Fatal("expected second surface to stay attached")
	}
}

func TestSurfacePlayerUnknownFrame(t *testing.T) {
	t.Parallel()

	p := NewSurfacePlayer(time.Second, "", nil)
	if err := p.HandleMessage([]byte(`{"type":"rewind"}`)); err == nil {
		t.Fatal("expected unknown frame type to be rejected")
	}
	if err := p.HandleMessage([]byte(`not json`)); err == nil {
		t.Fatal("expected malformed frame to be rejected")
	}
}

func TestSurfacePlayerOverWebSocket(t *testing.T) {
	t.Parallel()

	p := NewSurfacePlayer(2*time.Second, "", nil)
	q := NewQueue(p, 10*time.Millisecond, nil, nil)
	defer q.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		p.Serve(r.Context(), ws)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = client.Close(websocket.StatusNormalClosure, "") }()

	deadline := time.Now().Add(2 * time.Second)
	for !p.Attached() {
		if time.Now().After(deadline) {
			t.Fatal("surface never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	q.Enqueue(seg(1))
	q.Enqueue(seg(2))

	var seqs []int
	for range 2 {
		_, data, err := client.Read(ctx)
		if err != nil {
			t.Fatalf("client read failed: %v", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		seqs = append(seqs, f.Seq)
		reply := fmt.Sprintf(`{"type":"ended","id":%d}`, f.ID)
		if err := client.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
			t.Fatalf("client write failed: %v", err)
		}
	}

	if err := q.Wait(ctx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("unexpected play order %v", seqs)
	}
}
