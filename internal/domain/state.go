package domain

// SessionState holds the per-session flags that gate the conversation.
// It is owned by the session state machine; other components read copies.
type SessionState struct {
	LoggedIn           bool
	Infected           bool
	AIResponding       bool
	InitialMessageSent bool
	LastAudioHash      string
	PendingAudio       *AudioSegment
}

// TerminalStatus describes the simulated endpoint shown next to the chat.
type TerminalStatus string

const (
	TerminalHealthy      TerminalStatus = "healthy"
	TerminalDisconnected TerminalStatus = "disconnected"
)

// Terminal returns the status the UI should show for Terminal A.
func (s SessionState) Terminal() TerminalStatus {
	if s.Infected {
		return TerminalDisconnected
	}
	return TerminalHealthy
}

// Banner returns the status line shown above the chat.
func (s SessionState) Banner() string {
	if s.Infected {
		return "🔴 感染対応モード（ネット遮断中）"
	}
	return "✅ 正常稼働"
}
