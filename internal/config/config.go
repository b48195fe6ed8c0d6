package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sjawhar/jarvis/internal/llm"
)

// EnvPrefix is the namespace prefix for all J.A.R.V.I.S. environment variables.
const EnvPrefix = "JARVIS_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr            string `yaml:"listen_addr"`
	DBPath                string `yaml:"db_path"`
	AudioDir              string `yaml:"audio_dir"`
	ExportDir             string `yaml:"export_dir"`
	ChatModel             string `yaml:"chat_model"`
	ImageModel            string `yaml:"image_model"`
	LiveModel             string `yaml:"live_model"`
	LiveBaseURL           string `yaml:"live_base_url"`
	CaptureSampleRate     int    `yaml:"capture_sample_rate"`
	PlaybackSampleRate    int    `yaml:"playback_sample_rate"`
	CaptureBlockSize      int    `yaml:"capture_block_size"`
	HistoryWindow         int    `yaml:"history_window"`
	RecordVoice           bool   `yaml:"record_voice"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	ExportInterval        string `yaml:"export_interval"`

	// Secrets, env vars only.
	GeminiAPIKey    string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8000",
		DBPath:                "data/jarvis.db",
		AudioDir:              "data/audio",
		ExportDir:             "data/exports",
		ChatModel:             "gemini/gemini-3-pro-preview",
		ImageModel:            "gemini/gemini-2.5-flash-image",
		LiveModel:             "gemini-2.5-flash-native-audio-preview-12-2025",
		CaptureSampleRate:     16000,
		PlaybackSampleRate:    24000,
		CaptureBlockSize:      4096,
		HistoryWindow:         8,
		GoogleCredentialsFile: "./service-account.json",
		ExportInterval:        "5m",
	}
}

// Load reads an optional .env file into the process environment, then
// configuration from a YAML file (if it exists), applies environment
// variable overrides, loads secrets, and validates the result. It returns
// the config, any validation warnings, and an error if a file exists but
// cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	return LoadWithDotEnv(path, ".env")
}

// LoadWithDotEnv is Load with an explicit .env path. Variables already set
// in the environment win over the file.
func LoadWithDotEnv(path, dotenv string) (Config, []string, error) {
	cfg := defaults()

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !os.IsNotExist(err) {
			return cfg, nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedExportInterval returns ExportInterval as a time.Duration, falling
// back to 5m if the value is invalid. Zero disables periodic export.
func (c *Config) ParsedExportInterval() time.Duration {
	d, err := time.ParseDuration(c.ExportInterval)
	if err != nil || d < 0 {
		return 5 * time.Minute
	}
	return d
}

// APIKey returns the secret for a model provider.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "gemini":
		return c.GeminiAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"DB_PATH":                 &cfg.DBPath,
		"AUDIO_DIR":               &cfg.AudioDir,
		"EXPORT_DIR":              &cfg.ExportDir,
		"CHAT_MODEL":              &cfg.ChatModel,
		"IMAGE_MODEL":             &cfg.ImageModel,
		"LIVE_MODEL":              &cfg.LiveModel,
		"LIVE_BASE_URL":           &cfg.LiveBaseURL,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
		"EXPORT_INTERVAL":         &cfg.ExportInterval,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CAPTURE_SAMPLE_RATE":  &cfg.CaptureSampleRate,
		"PLAYBACK_SAMPLE_RATE": &cfg.PlaybackSampleRate,
		"CAPTURE_BLOCK_SIZE":   &cfg.CaptureBlockSize,
		"HISTORY_WINDOW":       &cfg.HistoryWindow,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "RECORD_VOICE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.RecordVoice = b
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.GeminiAPIKey == "" {
		warnings = append(warnings, "Gemini API key not configured: voice and holograms are disabled. Set "+EnvPrefix+"GEMINI_API_KEY.")
	}

	if provider, _, err := llm.ParseModel(cfg.ChatModel); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid chat_model %q: chat is disabled.", cfg.ChatModel))
	} else if cfg.APIKey(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for chat provider %q: chat is disabled. Set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
	}

	if provider, _, err := llm.ParseModel(cfg.ImageModel); err != nil || provider != "gemini" {
		warnings = append(warnings, fmt.Sprintf("Invalid image_model %q: holograms need a gemini/<model> image model.", cfg.ImageModel))
	}

	if d, err := time.ParseDuration(cfg.ExportInterval); err != nil || d < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid export_interval %q: using default 5m.", cfg.ExportInterval))
	}
	if cfg.GDriveFolderID != "" {
		if _, err := os.Stat(cfg.GoogleCredentialsFile); err != nil {
			warnings = append(warnings, fmt.Sprintf("Google credentials file %q not readable: Drive export is disabled.", cfg.GoogleCredentialsFile))
		}
	}

	return warnings
}
