package session

import (
	"errors"
	"testing"

	"github.com/ashureev/csirt-labs/internal/domain"
)

func loggedInInfected(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine()
	if _, err := m.Dispatch(Login{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := m.Dispatch(TriggerInfection{}); err != nil {
		t.Fatalf("TriggerInfection failed: %v", err)
	}
	return m
}

func TestMachineInfectionInjectsGreetingOnce(t *testing.T) {
	t.Parallel()

	m := loggedInInfected(t)
	st := m.State()
	if !st.Infected || !st.InitialMessageSent || st.AIResponding {
		t.Fatalf("unexpected state after infection: %+v", st)
	}

	msgs := m.History().All()
	if len(msgs) != 2 {
		t.Fatalf("expected greeting pair, got %d messages", len(msgs))
	}
	if msgs[0].Sender != domain.SenderSystem || msgs[0].Text != SystemNotice {
		t.Fatalf("unexpected system notice: %+v", msgs[0])
	}
	if msgs[1].Sender != domain.SenderAI || msgs[1].Text != Greeting {
		t.Fatalf("unexpected greeting: %+v", msgs[1])
	}

	episode := m.Episode()
	if _, err := m.Dispatch(TriggerInfection{}); !errors.Is(err, ErrAlreadyInfected) {
		t.Fatalf("expected ErrAlreadyInfected, got %v", err)
	}
	if m.History().Len() != 2 || m.Episode() != episode {
		t.Fatal("second trigger must not mutate state")
	}
}

func TestMachineRequiresLogin(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	if _, err := m.Dispatch(TriggerInfection{}); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if _, err := m.Dispatch(SubmitUserInput{Text: "hi"}); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestMachineSubmitRequiresInfection(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Dispatch(Login{})
	if _, err := m.Dispatch(SubmitUserInput{Text: "hi"}); !errors.Is(err, ErrNotInfected) {
		t.Fatalf("expected ErrNotInfected, got %v", err)
	}
	if _, err := m.Dispatch(AcceptAudio{Audio: []byte("a")}); !errors.Is(err, ErrNotInfected) {
		t.Fatalf("expected ErrNotInfected, got %v", err)
	}
}

func TestMachineResponseCycle(t *testing.T) {
	t.Parallel()

	m := loggedInInfected(t)

	out, err := m.Dispatch(SubmitUserInput{Text: "  画面が真っ赤です  "})
	if err != nil {
		t.Fatalf("SubmitUserInput failed: %v", err)
	}
	if !m.State().AIResponding {
		t.Fatal("expected aiResponding after user input")
	}
	last, _ := m.History().Last()
	if last.Sender != domain.SenderUser || last.Text != "画面が真っ赤です" {
		t.Fatalf("unexpected last message: %+v", last)
	}

	if _, err := m.Dispatch(SubmitUserInput{Text: "again"}); !errors.Is(err, ErrResponding) {
		t.Fatalf("expected ErrResponding, got %v", err)
	}
	if _, err := m.Dispatch(AcceptAudio{Audio: []byte("clip")}); !errors.Is(err, ErrResponding) {
		t.Fatalf("expected ErrResponding for audio, got %v", err)
	}

	if _, err := m.Dispatch(ResponseComplete{Episode: out.Episode, Text: "落ち着いてください。"}); err != nil {
		t.Fatalf("ResponseComplete failed: %v", err)
	}
	st := m.State()
	if st.AIResponding {
		t.Fatal("expected aiResponding cleared")
	}
	last, _ = m.History().Last()
	if last.Sender != domain.SenderAI || last.Text != "落ち着いてください。" {
		t.Fatalf("unexpected ai message: %+v", last)
	}
	if m.History().Len() != 4 {
		t.Fatalf("expected 4 messages, got %d", m.History().Len())
	}
}

func TestMachineRejectsBlankInput(t *testing.T) {
	t.Parallel()

	m := loggedInInfected(t)
	if _, err := m.Dispatch(SubmitUserInput{Text: " \n\t"}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if m.State().AIResponding || m.History().Len() != 2 {
		t.Fatal("blank input must not change state")
	}
}

func TestMachineAudioDedup(t *testing.T) {
	t.Parallel()

	m := loggedInInfected(t)
	clip := []byte("recorded clip")

	out, err := m.Dispatch(AcceptAudio{Audio: clip})
	if err != nil {
		t.Fatalf("first AcceptAudio failed: %v", err)
	}
	hash := m.State().LastAudioHash
	if hash == "" || out.Digest != hash {
		t.Fatalf("expected digest to be recorded, got %q / %q", hash, out.Digest)
	}

	if _, err := m.Dispatch(AcceptAudio{Audio: clip}); !errors.Is(err, ErrDuplicateAudio) {
		t.Fatalf("expected ErrDuplicateAudio, got %v", err)
	}
	if m.State().LastAudioHash != hash || m.History().Len() != 2 || m.State().AIResponding {
		t.Fatal("duplicate audio must not change state")
	}

	if _, err := m.Dispatch(AcceptAudio{Audio: []byte("another clip")}); err != nil {
		t.Fatalf("distinct clip rejected: %v", err)
	}
	if m.State().LastAudioHash == hash {
		t.Fatal("expected digest to change for a distinct clip")
	}
}

func TestMachineResetDropsStaleCompletion(t *testing.T) {
	t.Parallel()

	m := loggedInInfected(t)
	out, _ := m.Dispatch(SubmitUserInput{Text: "help"})

	if _, err := m.Dispatch(Reset{}); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	st := m.State()
	if !st.LoggedIn || st.Infected || st.AIResponding || st.InitialMessageSent || st.LastAudioHash != "" || st.PendingAudio != nil {
		t.Fatalf("unexpected state after reset: %+v", st)
	}
	if m.History().Len() != 0 {
		t.Fatal("expected empty history after reset")
	}

	if _, err := m.Dispatch(ResponseComplete{Episode: out.Episode, Text: "late"}); !errors.Is(err, ErrStaleEpisode) {
		t.Fatalf("expected ErrStaleEpisode, got %v", err)
	}
	if m.History().Len() != 0 {
		t.Fatal("stale completion must not append")
	}

	// A new episode can start and complete normally.
	m.Dispatch(TriggerInfection{})
	out, _ = m.Dispatch(SubmitUserInput{Text: "again"})
	if _, err := m.Dispatch(ResponseComplete{Episode: out.Episode, Text: "ok"}); err != nil {
		t.Fatalf("fresh completion failed: %v", err)
	}
}

func TestMachinePendingAudio(t *testing.T) {
	t.Parallel()

	m := loggedInInfected(t)
	seg := domain.AudioSegment{Seq: 1, Episode: m.Episode(), Text: Greeting, Audio: []byte("mp3")}

	if _, err := m.Dispatch(AudioReady{Segment: seg}); err != nil {
		t.Fatalf("AudioReady failed: %v", err)
	}
	if m.State().PendingAudio == nil {
		t.Fatal("expected pending audio")
	}

	out, _ := m.Dispatch(TakePendingAudio{})
	if out.Pending == nil || out.Pending.Text != Greeting {
		t.Fatalf("unexpected pending audio: %+v", out.Pending)
	}
	out, _ = m.Dispatch(TakePendingAudio{})
	if out.Pending != nil {
		t.Fatal("pending audio must be handed out once")
	}

	stale := seg
	stale.Episode = m.Episode() - 1
	if _, err := m.Dispatch(AudioReady{Segment: stale}); !errors.Is(err, ErrStaleEpisode) {
		t.Fatalf("expected ErrStaleEpisode, got %v", err)
	}
}

func TestMachineLogoutClearsEverything(t *testing.T) {
	t.Parallel()

	m := loggedInInfected(t)
	m.Dispatch(Logout{})

	st := m.State()
	if st.LoggedIn || st.Infected || m.History().Len() != 0 {
		t.Fatalf("unexpected state after logout: %+v", st)
	}
}

type bogusEvent struct{}

func (bogusEvent) eventName() string { return "bogus" }

func TestMachineUnknownEvent(t *testing.T) {
	t.Parallel()

	if _, err := NewMachine().Dispatch(bogusEvent{}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}
