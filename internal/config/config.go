package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all environment variables.
const EnvPrefix = "MENSIS_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	Room                  string `yaml:"room"`
	ListenAddr            string `yaml:"listen_addr"`
	TranscriptsDir        string `yaml:"transcripts_dir"`
	SpeechDir             string `yaml:"speech_dir"`
	DBPath                string `yaml:"db_path"`
	DeliveryURL           string `yaml:"delivery_url"`
	InsecureSkipVerify    bool   `yaml:"insecure_skip_verify"`
	DeliveryTimeout       string `yaml:"delivery_timeout"`
	IdleTimeout           string `yaml:"idle_timeout"`
	MicSampleRate         int    `yaml:"mic_sample_rate"`
	MicSampleRates        []int  `yaml:"mic_sample_rates"`
	DeepgramModel         string `yaml:"deepgram_model"`
	DeepgramLanguage      string `yaml:"deepgram_language"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8081",
		TranscriptsDir:        "transcriptions",
		SpeechDir:             "user_speech",
		DBPath:                "data/room-scribe.db",
		DeliveryURL:           "https://localhost:3000/api/transcript",
		DeliveryTimeout:       "30s",
		IdleTimeout:           "0s",
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100, 32000, 24000},
		DeepgramModel:         "nova-2",
		DeepgramLanguage:      "en-US",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads an optional .env file, then configuration from a YAML file (if
// it exists), applies environment variable overrides, loads secrets, and
// validates the result. It returns the config, any validation warnings, and
// an error if a file exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, nil, fmt.Errorf("load .env file: %w", err)
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

// ParsedDeliveryTimeout returns DeliveryTimeout as a time.Duration,
// falling back to 30s if the value is invalid.
func (c *Config) ParsedDeliveryTimeout() time.Duration {
	d, err := time.ParseDuration(c.DeliveryTimeout)
	if err != nil || d < 0 {
		return 30 * time.Second
	}
	return d
}

// ParsedIdleTimeout returns IdleTimeout as a time.Duration. Zero or an
// invalid value disables idle shutdown.
func (c *Config) ParsedIdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "ROOM"); v != "" {
		cfg.Room = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTS_DIR"); v != "" {
		cfg.TranscriptsDir = v
	}
	if v := os.Getenv(EnvPrefix + "SPEECH_DIR"); v != "" {
		cfg.SpeechDir = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	// The backend historically reads MENSIS_MENTOR_CERT_URL.
	if v := os.Getenv(EnvPrefix + "MENTOR_CERT_URL"); v != "" {
		cfg.DeliveryURL = v
	}
	if v := os.Getenv(EnvPrefix + "INSECURE_SKIP_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.InsecureSkipVerify = b
		}
	}
	if v := os.Getenv(EnvPrefix + "DELIVERY_TIMEOUT"); v != "" {
		cfg.DeliveryTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "DEEPGRAM_MODEL"); v != "" {
		cfg.DeepgramModel = v
	}
	if v := os.Getenv(EnvPrefix + "DEEPGRAM_LANGUAGE"); v != "" {
		cfg.DeepgramLanguage = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.Room == "" {
		warnings = append(warnings, "No room configured, only the transcript query API will run. Set "+EnvPrefix+"ROOM.")
	}
	if cfg.InsecureSkipVerify {
		warnings = append(warnings, "TLS certificate verification is disabled for transcript delivery.")
	}
	if d, err := time.ParseDuration(cfg.DeliveryTimeout); err != nil || d < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid delivery_timeout %q, using default 30s.", cfg.DeliveryTimeout))
	}
	if d, err := time.ParseDuration(cfg.IdleTimeout); err != nil || d < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid idle_timeout %q, idle shutdown disabled.", cfg.IdleTimeout))
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
