package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/csirt-labs/internal/agent"
	"github.com/ashureev/csirt-labs/internal/container"
	"github.com/ashureev/csirt-labs/internal/domain"
	"github.com/ashureev/csirt-labs/internal/metrics"
	"github.com/ashureev/csirt-labs/internal/playback"
	"github.com/ashureev/csirt-labs/internal/responder"
)

// Speech is the synthesis and transcription bridge used by a controller.
type Speech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Format() string
}

// Deps are shared by every controller.
type Deps struct {
	Responder    *responder.Streamer
	Speech       Speech
	Isolator     container.Isolator
	Conversation agent.ConversationLogger
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	// PlaybackErrorDelay and PlaybackAckTimeout configure each session's queue.
	PlaybackErrorDelay time.Duration
	PlaybackAckTimeout time.Duration
	PlaybackRate       string
}

// Snapshot is a read-only view of a session for clients.
type Snapshot struct {
	SessionID          string                `json:"session_id"`
	User               string                `json:"user,omitempty"`
	LoggedIn           bool                  `json:"logged_in"`
	Infected           bool                  `json:"infected"`
	AIResponding       bool                  `json:"ai_responding"`
	InitialMessageSent bool                  `json:"initial_message_sent"`
	Messages           []domain.Message      `json:"messages"`
	Terminal           domain.TerminalStatus `json:"terminal"`
	Banner             string                `json:"banner"`
	HasPendingAudio    bool                  `json:"has_pending_audio"`
	PlaybackQueued     int                   `json:"playback_queued"`
	SurfaceAttached    bool                  `json:"surface_attached"`
}

// Controller is the single control point for one session.
type Controller struct {
	id      string
	deps    Deps
	logger  *slog.Logger
	queue   *playback.Queue
	surface *playback.SurfacePlayer

	mu         sync.Mutex
	machine    *Machine
	user       string
	lastActive time.Time

	inflight sync.WaitGroup
}

// NewController creates a logged-out session.
func NewController(id string, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Isolator == nil {
		deps.Isolator = container.NoopIsolator{}
	}
	if deps.Conversation == nil {
		deps.Conversation = agent.NopConversationLogger()
	}
	logger := deps.Logger.With("session_id", id)
	surface := playback.NewSurfacePlayer(deps.PlaybackAckTimeout, deps.PlaybackRate, logger)
	return &Controller{
		id:         id,
		deps:       deps,
		logger:     logger,
		surface:    surface,
		queue:      playback.NewQueue(surface, deps.PlaybackErrorDelay, logger, deps.Metrics),
		machine:    NewMachine(),
		lastActive: time.Now(),
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.id
}

// Surface returns the playback surface clients attach to.
func (c *Controller) Surface() *playback.SurfacePlayer {
	return c.surface
}

// Queue returns the session's playback queue.
func (c *Controller) Queue() *playback.Queue {
	return c.queue
}

// LastActive returns when the session last handled a request.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Controller) dispatch(ev Event) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = time.Now()
	return c.machine.Dispatch(ev)
}

// Login authenticates the session as user.
func (c *Controller) Login(user string) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	_, _ = c.dispatch(Login{})
	c.logger.Info("Session logged in", "user", user)
}

// Logout clears the session and restores the terminal if it was isolated.
func (c *Controller) Logout(ctx context.Context) {
	wasInfected := c.Snapshot().Infected
	_, _ = c.dispatch(Logout{})
	c.mu.Lock()
	c.user = ""
	c.mu.Unlock()
	c.queue.Clear()
	if wasInfected {
		c.restoreTerminal(ctx)
	}
	c.logger.Info("Session logged out")
}

// Infect starts an infection episode. It isolates the terminal, injects the
// greeting pair and queues the spoken greeting. Warnings describe non-fatal
// failures such as an unavailable speech service.
func (c *Controller) Infect(ctx context.Context) (Snapshot, []string, error) {
	out, err := c.dispatch(TriggerInfection{})
	if err != nil {
		return c.Snapshot(), nil, err
	}

	var warnings []string
	if err := c.deps.Isolator.Isolate(ctx); err != nil {
		c.logger.Error("Failed to isolate terminal", "error", err)
		warnings = append(warnings, "端末のネットワーク遮断に失敗しました")
	}

	for _, msg := range out.Appended {
		eventType := agent.EventGreeting
		if msg.Sender == domain.SenderSystem {
			eventType = agent.EventSystemMessage
		}
		c.logConversation("session", "inbound", eventType, msg.Text, nil)
	}

	audio, err := c.deps.Speech.Synthesize(ctx, Greeting)
	if err != nil {
		warnings = append(warnings, "TTS エラー: "+err.Error())
	} else {
		c.deliver(domain.AudioSegment{Seq: 1, Episode: out.Episode, Text: Greeting, Audio: audio, Format: c.deps.Speech.Format()})
	}

	c.logger.Info("Infection triggered", "episode", out.Episode)
	return c.Snapshot(), warnings, nil
}

// Reset clears the conversation, drops queued playback and restores the terminal.
func (c *Controller) Reset(ctx context.Context) Snapshot {
	wasInfected := c.Snapshot().Infected
	_, _ = c.dispatch(Reset{})
	dropped := c.queue.Clear()
	if wasInfected {
		c.restoreTerminal(ctx)
	}
	c.logConversation("session", "outbound", agent.EventReset, "", map[string]any{"dropped_segments": dropped})
	c.logger.Info("Session reset", "dropped_segments", dropped)
	return c.Snapshot()
}

// SubmitText records a user message and streams the assistant reply to sink.
// It returns once the reply has been committed.
func (c *Controller) SubmitText(ctx context.Context, text string, sink func(responder.Event)) (responder.Result, error) {
	return c.submit(ctx, text, agent.EventUserMessage, sink)
}

// SubmitAudio transcribes a recorded clip and answers it like SubmitText.
// A repeat of the last accepted clip returns ErrDuplicateAudio without any
// other effect. A failed transcription returns *speech.STTError and records
// nothing.
func (c *Controller) SubmitAudio(ctx context.Context, audio []byte, onTranscript func(string), sink func(responder.Event)) (string, responder.Result, error) {
	if _, err := c.dispatch(AcceptAudio{Audio: audio}); err != nil {
		if errors.Is(err, ErrDuplicateAudio) {
			c.deps.Metrics.DuplicateAudio()
			c.logger.Info("Duplicate audio submission ignored")
		}
		return "", responder.Result{}, err
	}

	text, err := c.deps.Speech.Transcribe(ctx, audio)
	if err != nil {
		return "", responder.Result{}, err
	}
	if onTranscript != nil {
		onTranscript(text)
	}

	res, err := c.submit(ctx, text, agent.EventVoiceTranscript, sink)
	return text, res, err
}

func (c *Controller) submit(ctx context.Context, text, eventType string, sink func(responder.Event)) (responder.Result, error) {
	c.inflight.Add(1)
	defer c.inflight.Done()

	c.mu.Lock()
	c.lastActive = time.Now()
	out, err := c.machine.Dispatch(SubmitUserInput{Text: text})
	history := c.machine.History()
	c.mu.Unlock()
	if err != nil {
		return responder.Result{}, err
	}

	channel := "chat_http"
	if eventType == agent.EventVoiceTranscript {
		channel = "voice_http"
	}
	c.logConversation(channel, "outbound", eventType, out.Appended[0].Text, nil)

	res := c.deps.Responder.Run(ctx, responder.Request{
		Episode: out.Episode,
		History: history,
		Sink:    sink,
		Audio:   c.deliver,
	})

	outcome := metrics.OutcomeOK
	switch {
	case res.Partial && res.Text == responder.FallbackNotice:
		outcome = metrics.OutcomeFailed
	case res.Partial:
		outcome = metrics.OutcomePartial
	}
	if _, err := c.dispatch(ResponseComplete{Episode: out.Episode, Text: res.Text}); err != nil {
		outcome = metrics.OutcomeStale
		c.logger.Info("Dropping response from a previous episode", "episode", out.Episode)
	}
	c.deps.Metrics.ResponseFinished(outcome)

	streamErr := ""
	if res.Err != nil {
		streamErr = res.Err.Error()
	}
	c.logConversation(channel, "inbound", agent.EventAssistantMessage, res.Text, map[string]any{
		"episode":      out.Episode,
		"segments":     res.Segments,
		"synthesized":  res.Synthesized,
		"partial":      res.Partial,
		"stream_error": streamErr,
		"outcome":      outcome,
	})
	return res, nil
}

// deliver makes seg the pending audio and queues it for playback, unless it
// belongs to an episode that has since ended.
func (c *Controller) deliver(seg domain.AudioSegment) {
	if _, err := c.dispatch(AudioReady{Segment: seg}); err != nil {
		c.logger.Debug("Discarding audio from a previous episode", "seq", seg.Seq, "episode", seg.Episode)
		return
	}
	c.queue.Enqueue(seg)
}

// TakePendingAudio returns the latest synthesized segment once.
func (c *Controller) TakePendingAudio() (*domain.AudioSegment, bool) {
	out, _ := c.dispatch(TakePendingAudio{})
	return out.Pending, out.Pending != nil
}

// Snapshot returns the current view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	state := c.machine.State()
	messages := c.machine.History().All()
	user := c.user
	c.mu.Unlock()

	return Snapshot{
		SessionID:          c.id,
		User:               user,
		LoggedIn:           state.LoggedIn,
		Infected:           state.Infected,
		AIResponding:       state.AIResponding,
		InitialMessageSent: state.InitialMessageSent,
		Messages:           messages,
		Terminal:           state.Terminal(),
		Banner:             state.Banner(),
		HasPendingAudio:    state.PendingAudio != nil,
		PlaybackQueued:     c.queue.Len(),
		SurfaceAttached:    c.surface.Attached(),
	}
}

// Wait blocks until no response is in flight or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops playback.
func (c *Controller) Close() {
	c.queue.Close()
}

func (c *Controller) restoreTerminal(ctx context.Context) {
	if err := c.deps.Isolator.Restore(ctx); err != nil {
		c.logger.Error("Failed to restore terminal network", "error", err)
	}
}

func (c *Controller) logConversation(channel, direction, eventType, content string, meta map[string]any) {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	c.deps.Conversation.Log(agent.ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     user,
		SessionID:  c.id,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
