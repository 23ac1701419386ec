package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	openai "github.com/sashabaranov/go-openai"
)

const openAIProvider = "openai"

// OpenAIConfig selects the speech models.
type OpenAIConfig struct {
	TTSModel string
	Voice    string
	Format   string
	STTModel string
	Language string
}

// OpenAIService implements Synthesizer and Transcriber on the OpenAI audio API.
type OpenAIService struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates an OpenAI speech service sharing client with other callers.
func NewOpenAI(client *openai.Client, cfg OpenAIConfig) *OpenAIService {
	if cfg.TTSModel == "" {
		cfg.TTSModel = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceNova)
	}
	if cfg.Format == "" {
		cfg.Format = string(openai.SpeechResponseFormatMp3)
	}
	if cfg.STTModel == "" {
		cfg.STTModel = openai.Whisper1
	}
	return &OpenAIService{client: client, cfg: cfg}
}

// Synthesize calls the speech endpoint and returns the encoded audio.
func (s *OpenAIService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, &TTSError{Provider: openAIProvider, Code: "empty_text", Message: "nothing to synthesize", Cause: ErrEmptyText}
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormat(s.cfg.Format),
	})
	if err != nil {
		code, retryable := classify(ctx, err)
		return nil, &TTSError{Provider: openAIProvider, Code: code, Message: "create speech", Cause: err, Retryable: retryable}
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		code, retryable := classify(ctx, err)
		return nil, &TTSError{Provider: openAIProvider, Code: code, Message: "read speech body", Cause: err, Retryable: retryable}
	}
	return audio, nil
}

// Transcribe uploads audio to the transcription endpoint.
func (s *OpenAIService) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", &STTError{Provider: openAIProvider, Code: "empty_audio", Message: "nothing to transcribe", Cause: ErrEmptyAudio}
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.STTModel,
		Reader:   bytes.NewReader(audio),
		FilePath: UploadName(audio),
		Language: s.cfg.Language,
	})
	if err != nil {
		code, retryable := classify(ctx, err)
		return "", &STTError{Provider: openAIProvider, Code: code, Message: "create transcription", Cause: err, Retryable: retryable}
	}
	return resp.Text, nil
}

// UploadName picks a file name whose extension matches the recorded container,
// since the transcription endpoint infers the codec from it.
func UploadName(audio []byte) string {
	switch http.DetectContentType(audio) {
	case "video/webm":
		return "audio.webm"
	case "application/ogg":
		return "audio.ogg"
	case "audio/mpeg":
		return "audio.mp3"
	default:
		return "audio.wav"
	}
}

func classify(ctx context.Context, err error) (string, bool) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout", true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusCode(apiErr.HTTPStatusCode), retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusCode(reqErr.HTTPStatusCode), retryableStatus(reqErr.HTTPStatusCode)
	}
	return "failed", false
}

func statusCode(status int) string {
	if status == 0 {
		return "failed"
	}
	return "http_" + strconv.Itoa(status)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

var (
	_ Synthesizer = (*OpenAIService)(nil)
	_ Transcriber = (*OpenAIService)(nil)
)

// String describes the configured models for startup logs.
func (s *OpenAIService) String() string {
	return fmt.Sprintf("tts=%s/%s/%s stt=%s/%s", s.cfg.TTSModel, s.cfg.Voice, s.cfg.Format, s.cfg.STTModel, s.cfg.Language)
}
