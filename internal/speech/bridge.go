// Package speech bridges text-to-speech and speech-to-text providers.
//
// Both directions are exposed as plain request/response calls bounded by a
// timeout. Every failure surfaces as *TTSError or *STTError so callers can
// degrade gracefully: a response without audio, or a voice turn that the user
// simply repeats.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/csirt-labs/internal/metrics"
)

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Config bounds the bridge's calls.
type Config struct {
	TTSTimeout time.Duration
	STTTimeout time.Duration
	// Format is the encoding the synthesizer produces, e.g. "mp3".
	Format string
}

const (
	defaultTTSTimeout = 30 * time.Second
	defaultSTTTimeout = 30 * time.Second
	defaultFormat     = "mp3"
	bridgeProvider    = "bridge"
)

// Bridge wraps a synthesizer and a transcriber with timeouts and typed errors.
type Bridge struct {
	tts     Synthesizer
	stt     Transcriber
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBridge creates a bridge. m may be nil.
func NewBridge(tts Synthesizer, stt Transcriber, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = defaultTTSTimeout
	}
	if cfg.STTTimeout <= 0 {
		cfg.STTTimeout = defaultSTTTimeout
	}
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{tts: tts, stt: stt, cfg: cfg, logger: logger, metrics: m}
}

// Format returns the encoding of synthesized audio.
func (b *Bridge) Format() string {
	return b.cfg.Format
}

// Synthesize converts text to audio. Failures are always *TTSError.
func (b *Bridge) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &TTSError{Provider: bridgeProvider, Code: "empty_text", Message: "nothing to synthesize", Cause: ErrEmptyText}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.TTSTimeout)
	defer cancel()

	start := time.Now()
	audio, err := b.tts.Synthesize(ctx, text)
	if err == nil && len(audio) == 0 {
		err = &TTSError{Provider: bridgeProvider, Code: "empty_audio", Message: "provider returned no audio", Cause: ErrEmptyAudio}
	}
	b.metrics.ObserveSpeech("tts", time.Since(start), err)
	if err != nil {
		err = asTTSError(ctx, err)
		b.logger.Warn("speech synthesis failed", "error", err, "text_len", len(text))
		return nil, err
	}
	return audio, nil
}

// Transcribe converts recorded audio to text. Failures, including blank
// transcripts, are always *STTError.
func (b *Bridge) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", &STTError{Provider: bridgeProvider, Code: "empty_audio", Message: "nothing to transcribe", Cause: ErrEmptyAudio}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.STTTimeout)
	defer cancel()

	start := time.Now()
	text, err := b.stt.Transcribe(ctx, audio)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = &STTError{Provider: bridgeProvider, Code: "empty_transcript", Message: "no speech recognized", Cause: ErrEmptyTranscript}
	}
	b.metrics.ObserveSpeech("stt", time.Since(start), err)
	if err != nil {
		err = asSTTError(ctx, err)
		b.logger.Warn("speech transcription failed", "error", err, "audio_bytes", len(audio))
		return "", err
	}
	return text, nil
}

func asTTSError(ctx context.Context, err error) error {
	var ttsErr *TTSError
	if errors.As(err, &ttsErr) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TTSError{Provider: bridgeProvider, Code: "timeout", Message: "synthesis timed out", Cause: errors.Join(ErrTimeout, err), Retryable: true}
	}
	return &TTSError{Provider: bridgeProvider, Code: "failed", Message: "synthesis failed", Cause: err}
}

func asSTTError(ctx context.Context, err error) error {
	var sttErr *STTError
	if errors.As(err, &sttErr) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &STTError{Provider: bridgeProvider, Code: "timeout", Message: "transcription timed out", Cause: errors.Join(ErrTimeout, err), Retryable: true}
	}
	return &STTError{Provider: bridgeProvider, Code: "failed", Message: "transcription failed", Cause: err}
}
