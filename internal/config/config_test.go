package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Login.Username != "aice" || cfg.Login.Password != "aice" {
		t.Fatalf("unexpected default credentials: %+v", cfg.Login)
	}
	if cfg.ContextWindow != 10 {
		t.Fatalf("expected context window 10, got %d", cfg.ContextWindow)
	}
	if cfg.Playback.ErrorDelay != 100*time.Millisecond || cfg.Playback.Rate != "1.5" {
		t.Fatalf("unexpected playback defaults: %+v", cfg.Playback)
	}
	if cfg.Speech.TTSTimeout != 30*time.Second || cfg.Speech.STTLanguage != "ja" {
		t.Fatalf("unexpected speech defaults: %+v", cfg.Speech)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOGIN_USERNAME", "analyst")
	t.Setenv("CONTEXT_WINDOW", "6")
	t.Setenv("TTS_TIMEOUT", "45")
	t.Setenv("STT_TIMEOUT", "1m")
	t.Setenv("PLAYBACK_ERROR_DELAY", "250ms")
	t.Setenv("TERMINAL_CONTAINER", "terminal-a")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Login.Username != "analyst" || cfg.ContextWindow != 6 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Speech.TTSTimeout != 45*time.Second || cfg.Speech.STTTimeout != time.Minute {
		t.Fatalf("unexpected timeouts: %+v", cfg.Speech)
	}
	if cfg.Playback.ErrorDelay != 250*time.Millisecond {
		t.Fatalf("unexpected error delay: %v", cfg.Playback.ErrorDelay)
	}
	if cfg.TerminalContainer != "terminal-a" || !cfg.AIEnabled() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "context window", key: "CONTEXT_WINDOW", val: "0", want: "CONTEXT_WINDOW"},
		{name: "playback rate", key: "PLAYBACK_RATE", val: "fast", want: "PLAYBACK_RATE"},
		{name: "empty password", key: "LOGIN_PASSWORD", val: "", want: "LOGIN_PASSWORD"},
		{name: "rate limit", key: "RATE_LIMIT_REQUESTS", val: "-1", want: "RATE_LIMIT_REQUESTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestGetEnvDurationFallback(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	if got := getEnvDuration("SOME_DURATION", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
}
