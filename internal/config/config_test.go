package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, ConfigFileEnv, "PORT", "GENERATION_TIMEOUT", "SYNTHESIS_TIMEOUT",
		"INTERVIEW_OPENING_DELAY", "INTERVIEW_PREVIEW_MAX_CHARS", "GEMINI_API_KEY",
		"GEMINI_MODEL", "ELEVENLABS_API_KEY", "CORS_ALLOWED_ORIGINS", "SPEECH_APP_ID", "SPEECH_ACCESS_TOKEN", "SPEECH_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 0 {
		t.Fatalf("expected no origin allowlist, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.AI.Timeout != 25*time.Second {
		t.Fatalf("expected generation timeout 25s, got %v", cfg.AI.Timeout)
	}
	if cfg.Interview.OpeningDelay != 2*time.Second {
		t.Fatalf("expected opening delay 2s, got %v", cfg.Interview.OpeningDelay)
	}
	if cfg.Interview.PreviewMaxChars != 15000 {
		t.Fatalf("expected preview budget 15000, got %d", cfg.Interview.PreviewMaxChars)
	}
	if cfg.Gemini.Enabled() {
		t.Fatal("gemini must be disabled without api key")
	}
	if cfg.Voice.Enabled() {
		t.Fatal("elevenlabs must be disabled without api key")
	}
	if cfg.Voice.ElevenLabsModel != "eleven_multilingual_v2" {
		t.Fatalf("unexpected elevenlabs model %q", cfg.Voice.ElevenLabsModel)
	}
	if cfg.Speech.Enabled {
		t.Fatal("speech must be disabled without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t, ConfigFileEnv)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("GENERATION_TIMEOUT", "5s")
	t.Setenv("INTERVIEW_OPENING_DELAY", "0")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("SPEECH_APP_ID", "app")
	t.Setenv("SPEECH_API_KEY", "token")
	t.Setenv("SPEECH_ACCESS_TOKEN", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://arena.example.com,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if got := cfg.Server.AllowedOrigins; len(got) != 2 || got[1] != "https://arena.example.com" {
		t.Fatalf("unexpected allowed origins %v", got)
	}
	if cfg.AI.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", cfg.AI.Timeout)
	}
	if cfg.Interview.OpeningDelay != 0 {
		t.Fatalf("expected zero opening delay, got %v", cfg.Interview.OpeningDelay)
	}
	if !cfg.Gemini.Enabled() {
		t.Fatal("gemini should be enabled")
	}
	if !cfg.Speech.Enabled || cfg.Speech.AccessToken != "token" {
		t.Fatalf("speech token should fall back to api key, got %+v", cfg.Speech)
	}

	client := cfg.Speech.ClientConfig()
	if client.AppID != "app" || client.AccessToken != "token" {
		t.Fatalf("client config not mapped: %+v", client)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                        "80 80",
		"LOG_JSON":                    "maybe",
		"ARK_TEMPERATURE":             "warm",
		"GENERATION_TIMEOUT":          "soon",
		"INTERVIEW_PREVIEW_MAX_CHARS": "0",
		"SYNTHESIS_TIMEOUT":           "-3s",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t, ConfigFileEnv)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t, "GEMINI_API_KEY", "GEMINI_MODEL")

	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	content := "gemini_api_key: file-key\ngemini_model: gemini-test\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gemini.APIKey != "file-key" || cfg.Gemini.Model != "gemini-test" {
		t.Fatalf("file values not applied: %+v", cfg.Gemini)
	}
}

func TestAIConfigEnabled(t *testing.T) {
	if (AIConfig{Model: "m"}).Enabled() {
		t.Fatal("model without credentials must be disabled")
	}
	if !(AIConfig{Model: "m", APIKey: "k"}).Enabled() {
		t.Fatal("model with api key must be enabled")
	}
	if !(AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}).Enabled() {
		t.Fatal("model with ak/sk must be enabled")
	}
}
