package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/csirt-labs/internal/identity"
	"github.com/ashureev/csirt-labs/internal/responder"
	"github.com/ashureev/csirt-labs/internal/session"
	"github.com/ashureev/csirt-labs/internal/speech"
	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type chatRequest struct {
	Message string `json:"message"`
}

type doneEvent struct {
	Text        string `json:"text"`
	Partial     bool   `json:"partial"`
	Segments    int    `json:"segments"`
	Synthesized int    `json:"synthesized"`
}

func newDoneEvent(res responder.Result) doneEvent {
	return doneEvent{
		Text:        res.Text,
		Partial:     res.Partial,
		Segments:    res.Segments,
		Synthesized: res.Synthesized,
	}
}

// Chat handles POST /api/chat. The reply is streamed as SSE token, segment
// and warning events followed by a final done event.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctrl := identity.ControllerFromContext(r.Context())
	if !h.limiter.Allow(ctrl.ID()) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	stream, ok := newSSEStream(w, h.logger)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.logger.Info("Chat request",
		"session_id", ctrl.ID(),
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	res, err := ctrl.SubmitText(r.Context(), req.Message, func(e responder.Event) {
		stream.send(e.Type, e)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	stream.send("done", newDoneEvent(res))
}

// Voice handles POST /api/voice with the recording as the raw body or as the
// multipart field "file". A repeat of the previous recording answers
// {"status":"duplicate"}; otherwise the transcript and reply stream as SSE.
func (h *Handler) Voice(w http.ResponseWriter, r *http.Request) {
	ctrl := identity.ControllerFromContext(r.Context())
	if !h.limiter.Allow(ctrl.ID()) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	audio, err := readAudio(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid recording")
		return
	}
	if len(audio) == 0 {
		Error(w, http.StatusBadRequest, "recording is empty")
		return
	}

	stream, ok := newSSEStream(w, h.logger)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	_, res, err := ctrl.SubmitAudio(r.Context(), audio,
		func(text string) {
			stream.send("transcript", map[string]string{"text": text})
		},
		func(e responder.Event) {
			stream.send(e.Type, e)
		},
	)
	var sttErr *speech.STTError
	switch {
	case errors.Is(err, session.ErrDuplicateAudio):
		JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	case errors.As(err, &sttErr):
		h.logger.Warn("Transcription failed", "session_id", ctrl.ID(), "code", sttErr.Code, "error", err)
		JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     sttErr.Error(),
			"warning":   "音声認識に失敗しました",
			"retryable": sttErr.Retryable,
		})
		return
	case err != nil:
		writeError(w, err)
		return
	}
	stream.send("done", newDoneEvent(res))
}

func readAudio(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

// PendingAudio handles GET /api/audio/pending. The latest synthesized segment
// is returned once; later calls answer 204 until new audio is ready.
func (h *Handler) PendingAudio(w http.ResponseWriter, r *http.Request) {
	seg, ok := identity.ControllerFromContext(r.Context()).TakePendingAudio()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", audioContentType(seg.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(seg.Audio)))
	w.Header().Set("X-Audio-Seq", strconv.Itoa(seg.Seq))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(seg.Audio); err != nil {
		h.logger.Warn("failed to write pending audio", "error", err)
	}
}

func audioContentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/L16"
	}
	return "application/octet-stream"
}

// Playback handles GET /ws/playback and attaches the connection as the
// session's playback surface.
func (h *Handler) Playback(w http.ResponseWriter, r *http.Request) {
	ctrl := identity.ControllerFromContext(r.Context())
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", ctrl.ID())
		return
	}
	defer ws.CloseNow()

	h.logger.Info("Playback surface connected", "session_id", ctrl.ID())
	ctrl.Surface().Serve(r.Context(), ws)
	h.logger.Info("Playback surface disconnected", "session_id", ctrl.ID())
}
