package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	realtime "github.com/andje/ivr-realtime/core"
	"github.com/andje/ivr-realtime/core/audio"
	"github.com/andje/ivr-realtime/core/metrics"
	"github.com/andje/ivr-realtime/core/protocol"
	"github.com/joho/godotenv"
)

// ErrMissingCredential is returned when OPENAI_API_KEY is not set.
var ErrMissingCredential = fmt.Errorf("%w: OPENAI_API_KEY is not set", realtime.ErrFatalConfig)

const defaultInstructions = "Eres un asistente de voz. Habla con voz suave y tranquilizadora. " +
	"Siempre llama a la función get_faq_answer si el usuario pide datos que puedan estar " +
	"en la base de FAQs. De lo contrario, respóndele directamente en español. " +
	"Habla de forma amable y concisa."

const (
	BackendPortAudio = "portaudio"
	BackendMiniaudio = "miniaudio"

	KnowledgeFAQ      = "faq"
	KnowledgeHTTP     = "http"
	KnowledgePostgres = "postgres"
)

// Config contains all runtime settings of the IVR client.
type Config struct {
	APIKey      string
	Model       string
	RealtimeURL string

	SampleRate   int
	ChunkFrames  int
	AudioBackend string

	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	ConnectTimeout    time.Duration
	LookupTimeout     time.Duration

	Voice                   string
	Instructions            string
	InputTranscriptionModel string
	VADThreshold            float64
	VADPrefixPaddingMs      int
	VADSilenceDurationMs    int
	VADCreateResponse       bool
	VADInterruptResponse    bool
	ToolChoice              string
	Modalities              []string
	MaxOutputTokens         int

	KnowledgeBackend string
	FAQPath          string
	KnowledgeURL     string
	DatabaseURL      string
	LookupThreshold  float64
	LookupMaxResults int
	FallbackNotFound string
	FallbackBadArgs  string

	// FAQImport seeds the postgres backend from FAQPath on startup.
	FAQImport bool

	// PriceInputPer1K and PriceOutputPer1K override the built-in USD price
	// of Model when positive.
	PriceInputPer1K  float64
	PriceOutputPer1K float64

	DataDir          string
	MetricsAddr      string
	MetricsNamespace string
	LogLevel         string
	OTLPEndpoint     string
}

// Load reads an optional .env file and then the environment, applying the
// defaults of the original deployment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	cfg := Config{
		APIKey:                  stringsTrimSpace("OPENAI_API_KEY"),
		Model:                   envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		RealtimeURL:             envOrDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		SampleRate:              audio.DefaultSampleRate,
		ChunkFrames:             audio.DefaultChunkFrames,
		AudioBackend:            strings.ToLower(envOrDefault("AUDIO_BACKEND", BackendPortAudio)),
		ReconnectDelay:          realtime.DefaultReconnectDelay,
		ConnectTimeout:          realtime.DefaultConnectTimeout,
		LookupTimeout:           realtime.DefaultLookupTimeout,
		Voice:                   envOrDefault("VOICE", "ash"),
		Instructions:            envOrDefault("INSTRUCTIONS", defaultInstructions),
		InputTranscriptionModel: envOrDefault("INPUT_TRANSCRIPTION_MODEL", "whisper-1"),
		VADThreshold:            0.4,
		VADPrefixPaddingMs:      300,
		VADSilenceDurationMs:    200,
		VADCreateResponse:       true,
		VADInterruptResponse:    true,
		ToolChoice:              envOrDefault("TOOL_CHOICE", "auto"),
		Modalities:              splitList(envOrDefault("MODALITIES", "audio,text")),
		MaxOutputTokens:         200,
		KnowledgeBackend:        strings.ToLower(envOrDefault("KNOWLEDGE_BACKEND", KnowledgeFAQ)),
		FAQPath:                 envOrDefault("FAQ_PATH", "preguntas.json"),
		KnowledgeURL:            stringsTrimSpace("KNOWLEDGE_URL"),
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		LookupThreshold:         0.5,
		LookupMaxResults:        3,
		FallbackNotFound:        envOrDefault("FALLBACK_NOT_FOUND", realtime.DefaultFallbackNotFound),
		FallbackBadArgs:         envOrDefault("FALLBACK_BAD_ARGS", realtime.DefaultFallbackBadArgs),
		DataDir:                 envOrDefault("DATA_DIR", "data"),
		MetricsAddr:             stringsTrimSpace("METRICS_ADDR"),
		MetricsNamespace:        envOrDefault("METRICS_NAMESPACE", "ivr_realtime"),
		LogLevel:                strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		OTLPEndpoint:            stringsTrimSpace("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if cfg.InputTranscriptionModel == "none" {
		cfg.InputTranscriptionModel = ""
	}

	var err error
	if cfg.SampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.SampleRate); err != nil {
		return Config{}, err
	}
	if cfg.ChunkFrames, err = intFromEnv("AUDIO_CHUNK_FRAMES", cfg.ChunkFrames); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectDelay, err = durationFromEnv("RECONNECT_DELAY", cfg.ReconnectDelay); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMaxDelay, err = durationFromEnv("RECONNECT_MAX_DELAY", cfg.ReconnectMaxDelay); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = durationFromEnv("CONNECT_TIMEOUT", cfg.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LookupTimeout, err = durationFromEnv("LOOKUP_TIMEOUT", cfg.LookupTimeout); err != nil {
		return Config{}, err
	}
	if cfg.VADThreshold, err = floatFromEnv("VAD_THRESHOLD", cfg.VADThreshold); err != nil {
		return Config{}, err
	}
	if cfg.VADPrefixPaddingMs, err = intFromEnv("VAD_PREFIX_PADDING_MS", cfg.VADPrefixPaddingMs); err != nil {
		return Config{}, err
	}
	if cfg.VADSilenceDurationMs, err = intFromEnv("VAD_SILENCE_DURATION_MS", cfg.VADSilenceDurationMs); err != nil {
		return Config{}, err
	}
	if cfg.VADCreateResponse, err = boolFromEnv("VAD_CREATE_RESPONSE", cfg.VADCreateResponse); err != nil {
		return Config{}, err
	}
	if cfg.VADInterruptResponse, err = boolFromEnv("VAD_INTERRUPT_RESPONSE", cfg.VADInterruptResponse); err != nil {
		return Config{}, err
	}
	if cfg.MaxOutputTokens, err = intFromEnv("MAX_OUTPUT_TOKENS", cfg.MaxOutputTokens); err != nil {
		return Config{}, err
	}
	if cfg.LookupThreshold, err = floatFromEnv("LOOKUP_THRESHOLD", cfg.LookupThreshold); err != nil {
		return Config{}, err
	}
	if cfg.LookupMaxResults, err = intFromEnv("LOOKUP_MAX_RESULTS", cfg.LookupMaxResults); err != nil {
		return Config{}, err
	}
	if cfg.FAQImport, err = boolFromEnv("FAQ_IMPORT", cfg.FAQImport); err != nil {
		return Config{}, err
	}
	if cfg.PriceInputPer1K, err = floatFromEnv("PRICE_INPUT_PER_1K", cfg.PriceInputPer1K); err != nil {
		return Config{}, err
	}
	if cfg.PriceOutputPer1K, err = floatFromEnv("PRICE_OUTPUT_PER_1K", cfg.PriceOutputPer1K); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.APIKey == "" {
		return ErrMissingCredential
	}

	var problems []error
	if cfg.SampleRate != audio.DefaultSampleRate && cfg.SampleRate != audio.RealtimeSampleRate {
		problems = append(problems, fmt.Errorf("AUDIO_SAMPLE_RATE must be 16000 or 24000"))
	}
	if cfg.ChunkFrames <= 0 {
		problems = append(problems, fmt.Errorf("AUDIO_CHUNK_FRAMES must be positive"))
	}
	switch cfg.AudioBackend {
	case BackendPortAudio, BackendMiniaudio:
	default:
		problems = append(problems, fmt.Errorf("AUDIO_BACKEND must be portaudio or miniaudio"))
	}
	if cfg.ReconnectDelay < 0 || cfg.ReconnectMaxDelay < 0 {
		problems = append(problems, fmt.Errorf("RECONNECT_DELAY and RECONNECT_MAX_DELAY must be >= 0"))
	}
	if cfg.LookupTimeout < 0 {
		problems = append(problems, fmt.Errorf("LOOKUP_TIMEOUT must be >= 0"))
	}
	if cfg.LookupMaxResults <= 0 {
		problems = append(problems, fmt.Errorf("LOOKUP_MAX_RESULTS must be positive"))
	}
	if cfg.PriceInputPer1K < 0 || cfg.PriceOutputPer1K < 0 {
		problems = append(problems, fmt.Errorf("PRICE_INPUT_PER_1K and PRICE_OUTPUT_PER_1K must be >= 0"))
	}
	if cfg.MaxOutputTokens <= 0 {
		problems = append(problems, fmt.Errorf("MAX_OUTPUT_TOKENS must be positive"))
	}
	if len(cfg.Modalities) == 0 {
		problems = append(problems, fmt.Errorf("MODALITIES must not be empty"))
	}
	switch cfg.ToolChoice {
	case "auto", "none", "required", "function":
	default:
		problems = append(problems, fmt.Errorf("TOOL_CHOICE must be auto, none, required or function"))
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error"))
	}
	switch cfg.KnowledgeBackend {
	case KnowledgeFAQ:
	case KnowledgeHTTP:
		if cfg.KnowledgeURL == "" {
			problems = append(problems, fmt.Errorf("KNOWLEDGE_URL is required for the http knowledge backend"))
		}
	case KnowledgePostgres:
		if cfg.DatabaseURL == "" {
			problems = append(problems, fmt.Errorf("DATABASE_URL is required for the postgres knowledge backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("KNOWLEDGE_BACKEND must be faq, http or postgres"))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", realtime.ErrFatalConfig, errors.Join(problems...))
	}
	return nil
}

// Realtime builds the session engine configuration.
func (cfg Config) Realtime() (realtime.Config, error) {
	rt := realtime.DefaultConfig()

	rt.Encoding = audio.GetDefaultEncodingInfo()
	rt.Encoding.SampleRate = cfg.SampleRate
	rt.Encoding.ChunkFrames = cfg.ChunkFrames

	rt.Session.Voice = cfg.Voice
	rt.Session.Instructions = cfg.Instructions
	rt.Session.Modalities = cfg.Modalities
	rt.Session.MaxResponseOutputTokens = cfg.MaxOutputTokens
	rt.Session.TurnDetection = &protocol.TurnDetection{
		Type:              "server_vad",
		Threshold:         cfg.VADThreshold,
		PrefixPaddingMs:   cfg.VADPrefixPaddingMs,
		SilenceDurationMs: cfg.VADSilenceDurationMs,
		CreateResponse:    cfg.VADCreateResponse,
		InterruptResponse: cfg.VADInterruptResponse,
	}
	if cfg.InputTranscriptionModel != "" {
		rt.Session.InputAudioTranscription = &protocol.Transcription{Model: cfg.InputTranscriptionModel}
	}

	tool, err := protocol.NewFAQTool()
	if err != nil {
		return realtime.Config{}, fmt.Errorf("%w: %w", realtime.ErrFatalConfig, err)
	}
	rt.Session.Tools = []protocol.Tool{tool}
	if cfg.ToolChoice == "function" {
		rt.Session.ToolChoice = protocol.ToolChoiceFunction(protocol.FAQToolName)
	} else {
		rt.Session.ToolChoice = protocol.ToolChoiceMode(cfg.ToolChoice)
	}

	rt.ReconnectDelay = cfg.ReconnectDelay
	rt.ReconnectMaxDelay = cfg.ReconnectMaxDelay
	rt.ConnectTimeout = cfg.ConnectTimeout
	rt.LookupTimeout = cfg.LookupTimeout
	rt.LookupThreshold = cfg.LookupThreshold
	rt.LookupMaxResults = cfg.LookupMaxResults
	rt.ResponseModalities = cfg.Modalities
	rt.FallbackNotFound = cfg.FallbackNotFound
	rt.FallbackBadArgs = cfg.FallbackBadArgs

	return rt, nil
}

// PriceTable returns the built-in prices with the configured override for
// Model applied.
func (cfg Config) PriceTable() metrics.PriceTable {
	table := metrics.DefaultPriceTable()
	if cfg.PriceInputPer1K > 0 || cfg.PriceOutputPer1K > 0 {
		table[cfg.Model] = metrics.Pricing{InputPer1K: cfg.PriceInputPer1K, OutputPer1K: cfg.PriceOutputPer1K}
	}
	return table
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s parse error: %w", realtime.ErrFatalConfig, key, err)
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
		return 0, fmt.Errorf("%w: %s parse error: %w", realtime.ErrFatalConfig, key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s parse error: %w", realtime.ErrFatalConfig, key, err)
	}
	return f, nil
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
		return false, fmt.Errorf("%w: %s parse error: expected bool", realtime.ErrFatalConfig, key)
	}
}
