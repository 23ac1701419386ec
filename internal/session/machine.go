// Package session owns the per-session conversation state.
//
// Machine is the only code that mutates session state; it does so through
// Dispatch. Controller serializes dispatches for one session and runs the
// slow external work (transcription, the assistant stream, synthesis)
// outside the lock.
package session

import (
	"errors"
	"strings"

	"github.com/ashureev/csirt-labs/internal/audioguard"
	"github.com/ashureev/csirt-labs/internal/chat"
	"github.com/ashureev/csirt-labs/internal/domain"
)

// Greeting pair injected when an infection is triggered.
const (
	SystemNotice = "【システム通知】セキュリティ脅威を検出したため端末をネットワークから遮断しました。"
	Greeting     = "こんにちは。CSIRT AIです。状況を確認します。何か異常に気付きましたか？"
)

var (
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrAlreadyInfected = errors.New("terminal already infected")
	ErrNotInfected     = errors.New("no infection in progress")
	ErrResponding      = errors.New("assistant is still responding")
	ErrEmptyInput      = errors.New("input is empty")
	ErrDuplicateAudio  = errors.New("duplicate audio submission")
	ErrStaleEpisode    = errors.New("event belongs to a previous episode")
	ErrUnknownEvent    = errors.New("unknown event")
)

// Event is an input to Machine.Dispatch.
type Event interface {
	eventName() string
}

type (
	// Login marks the session as authenticated.
	Login struct{}
	// Logout ends the session and clears all state.
	Logout struct{}
	// TriggerInfection starts an infection episode and injects the greeting.
	TriggerInfection struct{}
	// AcceptAudio checks a recorded clip against the last accepted one.
	AcceptAudio struct{ Audio []byte }
	// SubmitUserInput records a user message and starts a response.
	SubmitUserInput struct{ Text string }
	// ResponseComplete records the assistant reply and ends the response.
	ResponseComplete struct {
		Episode uint64
		Text    string
	}
	// AudioReady stores a synthesized segment as the latest pending audio.
	AudioReady struct{ Segment domain.AudioSegment }
	// TakePendingAudio hands the pending audio to the caller once.
	TakePendingAudio struct{}
	// Reset clears everything except the login.
	Reset struct{}
)

func (Login) eventName() string            { return "login" }
func (Logout) eventName() string           { return "logout" }
func (TriggerInfection) eventName() string { return "trigger_infection" }
func (AcceptAudio) eventName() string      { return "accept_audio" }
func (SubmitUserInput) eventName() string  { return "submit_user_input" }
func (ResponseComplete) eventName() string { return "response_complete" }
func (AudioReady) eventName() string       { return "audio_ready" }
func (TakePendingAudio) eventName() string { return "take_pending_audio" }
func (Reset) eventName() string            { return "reset" }

// Outcome reports what a dispatch did.
type Outcome struct {
	// Episode is the episode current after the event.
	Episode  uint64
	Appended []domain.Message
	Pending  *domain.AudioSegment
	Digest   string
}

// Machine holds one session's state.
// It is not safe for concurrent use; Controller serializes access.
type Machine struct {
	state   domain.SessionState
	history *chat.History
	guard   *audioguard.Guard
	// episode advances on every infection and reset so work started in an
	// earlier episode can be recognized and dropped.
	episode uint64
}

// NewMachine returns a logged-out machine.
func NewMachine() *Machine {
	return &Machine{history: chat.NewHistory(), guard: audioguard.New()}
}

// State returns a copy of the current flags.
func (m *Machine) State() domain.SessionState {
	s := m.state
	if s.PendingAudio != nil {
		p := *s.PendingAudio
		s.PendingAudio = &p
	}
	return s
}

// History returns the current chat history.
func (m *Machine) History() *chat.History {
	return m.history
}

// Episode returns the current episode number.
func (m *Machine) Episode() uint64 {
	return m.episode
}

// Dispatch applies ev. Rejected events leave the state untouched.
func (m *Machine) Dispatch(ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case Login:
		m.state.LoggedIn = true
		return m.outcome(), nil

	case Logout:
		m.clear()
		m.state.LoggedIn = false
		return m.outcome(), nil

	case TriggerInfection:
		if !m.state.LoggedIn {
			return m.outcome(), ErrNotLoggedIn
		}
		if m.state.Infected {
			return m.outcome(), ErrAlreadyInfected
		}
		m.episode++
		m.state.Infected = true
		m.state.InitialMessageSent = false
		greeting := []domain.Message{
			domain.NewMessage(domain.SenderSystem, SystemNotice),
			domain.NewMessage(domain.SenderAI, Greeting),
		}
		for _, msg := range greeting {
			m.history.Append(msg)
		}
		m.state.InitialMessageSent = true
		out := m.outcome()
		out.Appended = greeting
		return out, nil

	case AcceptAudio:
		if err := m.canSubmit(); err != nil {
			return m.outcome(), err
		}
		if len(e.Audio) == 0 {
			return m.outcome(), ErrEmptyInput
		}
		if !m.guard.Accept(e.Audio) {
			out := m.outcome()
			out.Digest = m.state.LastAudioHash
			return out, ErrDuplicateAudio
		}
		m.state.LastAudioHash = m.guard.Last()
		out := m.outcome()
		out.Digest = m.state.LastAudioHash
		return out, nil

	case SubmitUserInput:
		if err := m.canSubmit(); err != nil {
			return m.outcome(), err
		}
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return m.outcome(), ErrEmptyInput
		}
		msg := domain.NewMessage(domain.SenderUser, text)
		m.history.Append(msg)
		m.state.AIResponding = true
		out := m.outcome()
		out.Appended = []domain.Message{msg}
		return out, nil

	case ResponseComplete:
		if e.Episode != m.episode || !m.state.AIResponding {
			return m.outcome(), ErrStaleEpisode
		}
		msg := domain.NewMessage(domain.SenderAI, e.Text)
		m.history.Append(msg)
		m.state.AIResponding = false
		out := m.outcome()
		out.Appended = []domain.Message{msg}
		return out, nil

	case AudioReady:
		if e.Segment.Episode != m.episode || !m.state.Infected {
			return m.outcome(), ErrStaleEpisode
		}
		seg := e.Segment
		m.state.PendingAudio = &seg
		return m.outcome(), nil

	case TakePendingAudio:
		out := m.outcome()
		out.Pending = m.state.PendingAudio
		m.state.PendingAudio = nil
		return out, nil

	case Reset:
		loggedIn := m.state.LoggedIn
		m.clear()
		m.state.LoggedIn = loggedIn
		return m.outcome(), nil
	}
	return m.outcome(), ErrUnknownEvent
}

func (m *Machine) canSubmit() error {
	switch {
	case !m.state.LoggedIn:
		return ErrNotLoggedIn
	case !m.state.Infected:
		return ErrNotInfected
	case m.state.AIResponding:
		return ErrResponding
	}
	return nil
}

func (m *Machine) clear() {
	m.state = domain.SessionState{}
	m.history = chat.NewHistory()
	m.guard.Reset()
	m.episode++
}

func (m *Machine) outcome() Outcome {
	return Outcome{Episode: m.episode}
}
