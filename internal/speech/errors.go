package speech

import "errors"

// Common speech errors.
var (
	// ErrEmptyText is returned when asked to synthesize blank text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyAudio is returned when a provider yields no audio, or a blank clip is submitted.
	ErrEmptyAudio = errors.New("audio cannot be empty")

	// ErrEmptyTranscript is returned when transcription produced no text.
	ErrEmptyTranscript = errors.New("transcript is empty")

	// ErrTimeout is returned when a call exceeds its bounded wait.
	ErrTimeout = errors.New("speech call timed out")
)

// TTSError describes a failed synthesis. Callers continue without audio.
type TTSError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *TTSError) Error() string {
	if e.Cause != nil {
		return "tts " + e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return "tts " + e.Provider + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e *TTSError) Unwrap() error {
	return e.Cause
}

// STTError describes a failed transcription. No message is recorded for the attempt.
type STTError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *STTError) Error() string {
	if e.Cause != nil {
		return "stt " + e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return "stt " + e.Provider + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e *STTError) Unwrap() error {
	return e.Cause
}
