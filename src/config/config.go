// Package config loads screener settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// maxNumberedKeys bounds BACKEND_API_KEY1..N.
const maxNumberedKeys = 5

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Owner      OwnerConfig      `yaml:"owner"`
	Backend    BackendConfig    `yaml:"backend"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	Endpoint   EndpointConfig   `yaml:"endpointing"`
	Turn       TurnConfig       `yaml:"turn"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Storage    StorageConfig    `yaml:"storage"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicURL is the externally reachable base, e.g. https://screen.example.com.
	// The /twiml handler derives the wss:// stream URL from it.
	PublicURL       string        `yaml:"public_url"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type OwnerConfig struct {
	Name          string `yaml:"name"`
	ForwardNumber string `yaml:"forward_number"`
	CallerID      string `yaml:"caller_id"`
	HoldMessage   string `yaml:"hold_message"`
	SystemPrompt  string `yaml:"system_prompt"`
	Greeting      string `yaml:"greeting"`
}

type BackendConfig struct {
	Provider        string        `yaml:"provider"` // "openai" or "gemini"
	BaseURL         string        `yaml:"base_url"`
	APIKeys         []string      `yaml:"api_keys"`
	TranscribeModel string        `yaml:"transcribe_model"`
	ChatModel       string        `yaml:"chat_model"`
	SpeechModel     string        `yaml:"speech_model"`
	Voice           string        `yaml:"voice"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int           `yaml:"max_tokens"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
	VertexAI        bool          `yaml:"vertex_ai"`
	Project         string        `yaml:"project"`
	Location        string        `yaml:"location"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
}

type EndpointConfig struct {
	EndSilenceMs     int     `yaml:"end_silence_ms"`
	MaxUtteranceMs   int     `yaml:"max_utterance_ms"`
	MinSpeechMs      int     `yaml:"min_speech_ms"`
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

type TurnConfig struct {
	PostAudioBuffer time.Duration `yaml:"post_audio_buffer"`
	MinExchanges    int           `yaml:"min_exchanges"`
}

type CalendarConfig struct {
	Enabled         bool          `yaml:"enabled"`
	CredentialsFile string        `yaml:"credentials_file"`
	CalendarID      string        `yaml:"calendar_id"`
	TimeZone        string        `yaml:"time_zone"`
	Timeout         time.Duration `yaml:"timeout"` // per calendar request
}

type StorageConfig struct {
	Driver      string        `yaml:"driver"` // "memory", "postgres" or "redis"
	PostgresDSN string        `yaml:"postgres_dsn"`
	RedisURL    string        `yaml:"redis_url"`
	RedisPrefix string        `yaml:"redis_prefix"`
	RecordTTL   time.Duration `yaml:"record_ttl"`
}

type RecordingsConfig struct {
	Dir         string        `yaml:"dir"`
	MaxDuration time.Duration `yaml:"max_duration"` // 0 for unlimited
}

type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Owner: OwnerConfig{
			HoldMessage: "Please hold while I connect you.",
		},
		Backend: BackendConfig{
			Provider:       "openai",
			Temperature:    0.7,
			MaxTokens:      150,
			AttemptTimeout: 10 * time.Second,
		},
		Endpoint: EndpointConfig{
			EndSilenceMs:     2000,
			MaxUtteranceMs:   15000,
			MinSpeechMs:      800,
			SpeechThreshold:  0.015,
			SilenceThreshold: 0.008,
		},
		Turn: TurnConfig{
			PostAudioBuffer: 2500 * time.Millisecond,
			MinExchanges:    1,
		},
		Calendar: CalendarConfig{
			CalendarID: "primary",
			TimeZone:   "America/New_York",
			Timeout:    10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:      "memory",
			RedisPrefix: "screener",
		},
		Recordings: RecordingsConfig{Dir: "recordings", MaxDuration: time.Hour},
		Log:        LogConfig{Level: "info"},
	}
}

// Load reads .env (if present), then path (if non-empty), then the
// environment.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	integer("PORT", &c.Server.Port)
	str("PUBLIC_URL", &c.Server.PublicURL)

	str("OWNER_NAME", &c.Owner.Name)
	str("PERSONAL_PHONE", &c.Owner.ForwardNumber)
	str("TWILIO_PHONE_NUMBER", &c.Owner.CallerID)

	str("BACKEND_PROVIDER", &c.Backend.Provider)
	str("BACKEND_BASE_URL", &c.Backend.BaseURL)
	str("BACKEND_CHAT_MODEL", &c.Backend.ChatModel)
	str("BACKEND_TRANSCRIBE_MODEL", &c.Backend.TranscribeModel)
	str("BACKEND_SPEECH_MODEL", &c.Backend.SpeechModel)
	str("BACKEND_VOICE", &c.Backend.Voice)
	duration("BACKEND_ATTEMPT_TIMEOUT", &c.Backend.AttemptTimeout)
	str("GOOGLE_CLOUD_PROJECT", &c.Backend.Project)
	str("GOOGLE_CLOUD_LOCATION", &c.Backend.Location)
	boolean("GOOGLE_GENAI_USE_VERTEXAI", &c.Backend.VertexAI)
	if keys := numberedKeys(lookup, "BACKEND_API_KEY"); len(keys) > 0 {
		c.Backend.APIKeys = keys
	}

	str("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)

	integer("END_SILENCE_MS", &c.Endpoint.EndSilenceMs)
	integer("MAX_UTTERANCE_MS", &c.Endpoint.MaxUtteranceMs)
	integer("MIN_SPEECH_MS", &c.Endpoint.MinSpeechMs)
	float("VAD_SPEECH_THRESHOLD", &c.Endpoint.SpeechThreshold)

	duration("POST_AUDIO_BUFFER", &c.Turn.PostAudioBuffer)
	integer("MIN_EXCHANGES", &c.Turn.MinExchanges)

	boolean("CALENDAR_ENABLED", &c.Calendar.Enabled)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.Calendar.CredentialsFile)
	str("CALENDAR_ID", &c.Calendar.CalendarID)
	str("CALENDAR_TIME_ZONE", &c.Calendar.TimeZone)
	duration("CALENDAR_TIMEOUT", &c.Calendar.Timeout)

	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("DATABASE_URL", &c.Storage.PostgresDSN)
	str("REDIS_URL", &c.Storage.RedisURL)

	str("RECORDINGS_DIR", &c.Recordings.Dir)
	duration("RECORDINGS_MAX_DURATION", &c.Recordings.MaxDuration)

	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_COLOR", &c.Log.Color)

	return errors.Join(errs...)
}

// numberedKeys collects PREFIX1..PREFIX5, falling back to PREFIX alone.
func numberedKeys(lookup lookupFunc, prefix string) []string {
	var keys []string
	for i := 1; i <= maxNumberedKeys; i++ {
		if v, ok := lookup(prefix + strconv.Itoa(i)); ok && strings.TrimSpace(v) != "" {
			keys = append(keys, strings.TrimSpace(v))
		}
	}
	if len(keys) == 0 {
		if v, ok := lookup(prefix); ok && strings.TrimSpace(v) != "" {
			keys = append(keys, strings.TrimSpace(v))
		}
	}
	return keys
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch c.Backend.Provider {
	case "openai":
		if len(c.Backend.APIKeys) == 0 {
			errs = append(errs, errors.New("backend.api_keys: at least one key is required"))
		}
	case "gemini":
		if len(c.Backend.APIKeys) == 0 && !c.Backend.VertexAI {
			errs = append(errs, errors.New("backend.api_keys: required unless vertex_ai is set"))
		}
		if c.Backend.VertexAI && c.Backend.Project == "" {
			errs = append(errs, errors.New("backend.project: required for vertex_ai"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.provider %q: must be openai or gemini", c.Backend.Provider))
	}
	if c.Backend.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("backend.attempt_timeout must be positive"))
	}

	if c.Owner.ForwardNumber == "" {
		errs = append(errs, errors.New("owner.forward_number (PERSONAL_PHONE) is required"))
	}
	if c.Endpoint.MinSpeechMs >= c.Endpoint.MaxUtteranceMs {
		errs = append(errs, errors.New("endpointing.min_speech_ms must be below max_utterance_ms"))
	}
	if c.Turn.PostAudioBuffer < 0 {
		errs = append(errs, errors.New("turn.post_audio_buffer must not be negative"))
	}
	if c.Turn.MinExchanges < 0 {
		errs = append(errs, errors.New("turn.min_exchanges must not be negative"))
	}
	if c.Calendar.Enabled && c.Calendar.Timeout <= 0 {
		errs = append(errs, errors.New("calendar.timeout must be positive"))
	}
	if c.Recordings.MaxDuration < 0 {
		errs = append(errs, errors.New("recordings.max_duration must not be negative"))
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn (DATABASE_URL) is required for postgres"))
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url (REDIS_URL) is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: must be memory, postgres or redis", c.Storage.Driver))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// StreamURL returns the websocket URL Twilio should stream to, or "" when
// PublicURL is unset.
func (c *Config) StreamURL() string {
	base := strings.TrimRight(c.Server.PublicURL, "/")
	switch {
	case base == "":
		return ""
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/media"
}
