package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the phone banking voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	PublicBaseURL    string
	CallbackTimeout  time.Duration
	SessionGrace     time.Duration

	LogLevel  string
	LogFormat string

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioValidateSignature bool

	VoiceProvider string

	ElevenLabsAPIKey          string
	ElevenLabsBaseURL         string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsSTTModel        string
	ElevenLabsTTSOutputFormat string

	AgentMode    string
	GoogleAPIKey string
	GeminiModel  string
	AgentHTTPURL string

	NessieAPIKey           string
	NessieBaseURL          string
	NessieTransactionCount int

	DirectoryPath string
	DatabaseURL   string

	ArtifactStore     string
	ArtifactRetention time.Duration
	S3Bucket          string
	S3Region          string
	S3Prefix          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	MaxSecurityAttempts  int
	RecordMaxLength      time.Duration
	RecordSilenceTimeout time.Duration
	MaxSilentPrompts     int
}

// SessionIdleTimeout is the time a call may stay silent before its session is
// evicted: one full recording window plus the silence timeout plus grace.
func (c Config) SessionIdleTimeout() time.Duration {
	return c.RecordMaxLength + c.RecordSilenceTimeout + c.SessionGrace
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "nessievoice"),
		PublicBaseURL:       strings.TrimRight(stringsTrimSpace("APP_PUBLIC_BASE_URL"), "/"),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("LOG_FORMAT", "json"),
		TwilioAccountSID:    stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     stringsTrimSpace("TWILIO_AUTH_TOKEN"),
		VoiceProvider:       envOrDefault("VOICE_PROVIDER", "auto"),
		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:   envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		// Rachel, the premade voice the phone line has always used.
		ElevenLabsTTSVoice:        envOrDefault("ELEVENLABS_TTS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsTTSModel:        envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel:        envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		AgentMode:                 envOrDefault("AGENT_MODE", "auto"),
		GoogleAPIKey:              stringsTrimSpace("GOOGLE_API_KEY"),
		GeminiModel:               envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		AgentHTTPURL:              stringsTrimSpace("AGENT_HTTP_URL"),
		NessieAPIKey:              stringsTrimSpace("NESSIE_API_KEY"),
		NessieBaseURL:             envOrDefault("NESSIE_BASE_URL", "http://api.nessieisreal.com"),
		NessieTransactionCount:    10,
		DirectoryPath:             stringsTrimSpace("DIRECTORY_PATH"),
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		ArtifactStore:             envOrDefault("ARTIFACT_STORE", "memory"),
		S3Bucket:                  stringsTrimSpace("S3_BUCKET"),
		S3Region:                  envOrDefault("S3_REGION", "us-east-1"),
		S3Prefix:                  envOrDefault("S3_PREFIX", "call-audio"),
		S3Endpoint:                stringsTrimSpace("S3_ENDPOINT"),
		S3AccessKeyID:             stringsTrimSpace("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:         stringsTrimSpace("S3_SECRET_ACCESS_KEY"),
		TwilioValidateSignature:   true,
		ShutdownTimeout:           15 * time.Second,
		CallbackTimeout:           12 * time.Second,
		SessionGrace:              30 * time.Second,
		ArtifactRetention:         10 * time.Minute,
		MaxSecurityAttempts:       3,
		RecordMaxLength:           30 * time.Second,
		RecordSilenceTimeout:      3 * time.Second,
		MaxSilentPrompts:          0,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallbackTimeout, err = durationFromEnv("APP_CALLBACK_TIMEOUT", cfg.CallbackTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionGrace, err = durationFromEnv("APP_SESSION_GRACE", cfg.SessionGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.ArtifactRetention, err = durationFromEnv("ARTIFACT_RETENTION", cfg.ArtifactRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordMaxLength, err = durationFromEnv("CALL_RECORD_MAX_LENGTH", cfg.RecordMaxLength)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordSilenceTimeout, err = durationFromEnv("CALL_RECORD_SILENCE_TIMEOUT", cfg.RecordSilenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TwilioValidateSignature, err = boolFromEnv("TWILIO_VALIDATE_SIGNATURE", cfg.TwilioValidateSignature)
	if err != nil {
		return Config{}, err
	}
	cfg.NessieTransactionCount, err = intFromEnv("NESSIE_TRANSACTION_COUNT", cfg.NessieTransactionCount)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSecurityAttempts, err = intFromEnv("CALL_MAX_SECURITY_ATTEMPTS", cfg.MaxSecurityAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSilentPrompts, err = intFromEnv("CALL_MAX_SILENT_PROMPTS", cfg.MaxSilentPrompts)
	if err != nil {
		return Config{}, err
	}

	if cfg.PublicBaseURL == "" {
		return Config{}, fmt.Errorf("APP_PUBLIC_BASE_URL is required")
	}
	if u, perr := url.Parse(cfg.PublicBaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("APP_PUBLIC_BASE_URL must be an absolute URL")
	}
	if cfg.TwilioValidateSignature && cfg.TwilioAuthToken == "" {
		return Config{}, fmt.Errorf("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is on")
	}
	if cfg.CallbackTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_CALLBACK_TIMEOUT must be at least 1s")
	}
	if cfg.SessionGrace < 0 {
		return Config{}, fmt.Errorf("APP_SESSION_GRACE must be >= 0")
	}
	if cfg.MaxSecurityAttempts <= 0 {
		return Config{}, fmt.Errorf("CALL_MAX_SECURITY_ATTEMPTS must be positive")
	}
	if cfg.MaxSilentPrompts < 0 {
		return Config{}, fmt.Errorf("CALL_MAX_SILENT_PROMPTS must be >= 0")
	}
	if cfg.RecordMaxLength < time.Second {
		return Config{}, fmt.Errorf("CALL_RECORD_MAX_LENGTH must be at least 1s")
	}
	if cfg.RecordSilenceTimeout < time.Second {
		return Config{}, fmt.Errorf("CALL_RECORD_SILENCE_TIMEOUT must be at least 1s")
	}
	if cfg.NessieTransactionCount <= 0 {
		return Config{}, fmt.Errorf("NESSIE_TRANSACTION_COUNT must be positive")
	}
	if cfg.ArtifactRetention < time.Minute {
		return Config{}, fmt.Errorf("ARTIFACT_RETENTION must be at least 1m")
	}
	switch cfg.ArtifactStore {
	case "memory":
	case "s3":
		if cfg.S3Bucket == "" {
			return Config{}, fmt.Errorf("S3_BUCKET is required when ARTIFACT_STORE=s3")
		}
	default:
		return Config{}, fmt.Errorf("ARTIFACT_STORE must be memory or s3")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
