package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "DB_PATH", "AUDIO_DIR", "EXPORT_DIR",
		"CHAT_MODEL", "IMAGE_MODEL", "LIVE_MODEL", "LIVE_BASE_URL",
		"CAPTURE_SAMPLE_RATE", "PLAYBACK_SAMPLE_RATE", "CAPTURE_BLOCK_SIZE",
		"HISTORY_WINDOW", "RECORD_VOICE", "GDRIVE_FOLDER_ID",
		"GOOGLE_CREDENTIALS_FILE", "EXPORT_INTERVAL",
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "CONFIG",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "data/jarvis.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.CaptureSampleRate != 16000 || cfg.PlaybackSampleRate != 24000 {
		t.Fatalf("unexpected default rates %d/%d", cfg.CaptureSampleRate, cfg.PlaybackSampleRate)
	}
	if cfg.CaptureBlockSize != 4096 {
		t.Fatalf("expected default block size 4096, got %d", cfg.CaptureBlockSize)
	}
	if cfg.HistoryWindow != 8 {
		t.Fatalf("expected default history window 8, got %d", cfg.HistoryWindow)
	}
	if cfg.ChatModel != "gemini/gemini-3-pro-preview" {
		t.Fatalf("expected default chat_model, got %q", cfg.ChatModel)
	}
	if cfg.ParsedExportInterval() != 5*time.Minute {
		t.Fatalf("expected default export interval, got %v", cfg.ParsedExportInterval())
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
listen_addr: 127.0.0.1:9000
db_path: /custom/db.sqlite
chat_model: anthropic/claude-sonnet-4-5
capture_sample_rate: 24000
history_window: 4
record_voice: true
export_interval: 0s
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" || cfg.DBPath != "/custom/db.sqlite" {
		t.Fatalf("unexpected paths %+v", cfg)
	}
	if cfg.ChatModel != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("unexpected chat_model %q", cfg.ChatModel)
	}
	if cfg.CaptureSampleRate != 24000 || cfg.HistoryWindow != 4 || !cfg.RecordVoice {
		t.Fatalf("unexpected numeric settings %+v", cfg)
	}
	if cfg.AudioDir != "data/audio" {
		t.Fatalf("expected unset keys to keep defaults, got audio_dir=%q", cfg.AudioDir)
	}
	if cfg.ParsedExportInterval() != 0 {
		t.Fatalf("expected export disabled, got %v", cfg.ParsedExportInterval())
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("db_path: /yaml/db.sqlite\nhistory_window: 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvPrefix+"DB_PATH", "/env/db.sqlite")
	t.Setenv(EnvPrefix+"HISTORY_WINDOW", "12")
	t.Setenv(EnvPrefix+"CAPTURE_BLOCK_SIZE", "not-a-number")
	t.Setenv(EnvPrefix+"RECORD_VOICE", "true")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/env/db.sqlite" {
		t.Fatalf("expected env to override yaml, got %q", cfg.DBPath)
	}
	if cfg.HistoryWindow != 12 {
		t.Fatalf("expected history window 12, got %d", cfg.HistoryWindow)
	}
	if cfg.CaptureBlockSize != 4096 {
		t.Fatalf("invalid env value should be ignored, got %d", cfg.CaptureBlockSize)
	}
	if !cfg.RecordVoice {
		t.Fatal("expected record_voice from env")
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"GEMINI_API_KEY", "gemini-key")
	t.Setenv(EnvPrefix+"ANTHROPIC_API_KEY", "anthropic-key")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("openai_api_key: from-yaml\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.APIKey("gemini") != "gemini-key" || cfg.APIKey("anthropic") != "anthropic-key" {
		t.Fatalf("unexpected keys %+v", cfg)
	}
	if cfg.APIKey("openai") != "" {
		t.Fatalf("expected empty openai key (yaml should be ignored), got %q", cfg.OpenAIAPIKey)
	}
	if cfg.APIKey("mistral") != "" {
		t.Fatal("unknown provider should have no key")
	}
}

func TestDotEnvLoaded(t *testing.T) {
	clearEnv(t)
	_ = os.Unsetenv(EnvPrefix + "LIVE_MODEL")
	_ = os.Unsetenv(EnvPrefix + "GEMINI_API_KEY")
	t.Setenv(EnvPrefix+"DB_PATH", "/from/env.db")

	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	content := EnvPrefix + "LIVE_MODEL=dotenv-live\n" + EnvPrefix + "GEMINI_API_KEY=dotenv-key\n" + EnvPrefix + "DB_PATH=/from/dotenv.db\n"
	if err := os.WriteFile(dotenv, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, _, err := LoadWithDotEnv("", dotenv)
	if err != nil {
		t.Fatalf("LoadWithDotEnv failed: %v", err)
	}

	if cfg.LiveModel != "dotenv-live" || cfg.GeminiAPIKey != "dotenv-key" {
		t.Fatalf("expected values from .env, got live=%q key=%q", cfg.LiveModel, cfg.GeminiAPIKey)
	}
	if cfg.DBPath != "/from/env.db" {
		t.Fatalf("process env should win over .env, got %q", cfg.DBPath)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var geminiWarning, chatWarning bool
	for _, w := range warnings {
		if strings.Contains(w, "Gemini API key") {
			geminiWarning = true
		}
		if strings.Contains(w, "chat provider") {
			chatWarning = true
		}
	}

	if !geminiWarning {
		t.Fatalf("expected Gemini warning when key is missing, got warnings: %v", warnings)
	}
	if !chatWarning {
		t.Fatalf("expected chat provider warning when key is missing, got warnings: %v", warnings)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"GEMINI_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestInvalidModelWarnings(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"GEMINI_API_KEY", "key")
	t.Setenv(EnvPrefix+"CHAT_MODEL", "no-provider")
	t.Setenv(EnvPrefix+"IMAGE_MODEL", "openai/dall-e")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected chat and image model warnings, got: %v", warnings)
	}
}

func TestInvalidExportIntervalWarning(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"GEMINI_API_KEY", "key")
	t.Setenv(EnvPrefix+"EXPORT_INTERVAL", "not-a-duration")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "export_interval") {
		t.Fatalf("expected export_interval warning, got: %v", warnings)
	}
	if cfg.ParsedExportInterval() != 5*time.Minute {
		t.Fatalf("expected fallback to 5m, got %v", cfg.ParsedExportInterval())
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for missing config file, got: %v", err)
	}

	if cfg.DBPath != "data/jarvis.db" {
		t.Fatalf("expected defaults when config file missing, got db_path=%q", cfg.DBPath)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte(":::invalid yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)

	_, _, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}
