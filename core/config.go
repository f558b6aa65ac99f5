package realtime

import (
	"fmt"
	"time"

	"github.com/andje/ivr-realtime/core/audio"
	"github.com/andje/ivr-realtime/core/knowledge"
	"github.com/andje/ivr-realtime/core/protocol"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultLookupTimeout  = 8 * time.Second

	DefaultFallbackNotFound = "Lo siento, no encontré esa respuesta en mi base de datos."
	DefaultFallbackBadArgs  = "Lo siento, no entendí la pregunta. ¿Podrías repetirla?"
)

// Config is shared by every session of a supervisor. Each session works on
// its own deep copy.
type Config struct {
	// Session is sent as is in session.update once the server announces
	// the session.
	Session  protocol.SessionConfig
	Encoding audio.EncodingInfo

	ReconnectDelay time.Duration
	// ReconnectMaxDelay above ReconnectDelay switches to a capped
	// exponential backoff with jitter.
	ReconnectMaxDelay time.Duration
	ConnectTimeout    time.Duration

	// LookupTimeout bounds a knowledge lookup, zero waits forever.
	LookupTimeout    time.Duration
	LookupThreshold  float64
	LookupMaxResults int

	// ResponseModalities and ResponseInstructions go into the
	// response.create sent after a tool result.
	ResponseModalities   []string
	ResponseInstructions string

	FallbackNotFound string
	FallbackBadArgs  string
}

func DefaultConfig() Config {
	cfg := Config{
		Session: protocol.SessionConfig{
			Modalities:        []string{"audio", "text"},
			Voice:             "ash",
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection: &protocol.TurnDetection{
				Type:              "server_vad",
				Threshold:         0.4,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 200,
				CreateResponse:    true,
				InterruptResponse: true,
			},
			ToolChoice:              protocol.ToolChoiceMode("auto"),
			MaxResponseOutputTokens: 200,
		},
		Encoding:           audio.GetDefaultEncodingInfo(),
		ReconnectDelay:     DefaultReconnectDelay,
		ConnectTimeout:     DefaultConnectTimeout,
		LookupTimeout:      DefaultLookupTimeout,
		LookupThreshold:    knowledge.DefaultThreshold,
		LookupMaxResults:   knowledge.DefaultMaxResults,
		ResponseModalities: []string{"audio", "text"},
		FallbackNotFound:   DefaultFallbackNotFound,
		FallbackBadArgs:    DefaultFallbackBadArgs,
	}
	if tool, err := protocol.NewFAQTool(); err == nil {
		cfg.Session.Tools = []protocol.Tool{tool}
	}
	return cfg
}

func (c Config) validate() error {
	if err := c.Encoding.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrFatalConfig, err)
	}
	if c.ReconnectDelay < 0 || c.ReconnectMaxDelay < 0 {
		return fmt.Errorf("%w: reconnect delays must not be negative", ErrFatalConfig)
	}
	if c.FallbackNotFound == "" || c.FallbackBadArgs == "" {
		return fmt.Errorf("%w: fallback answers must not be empty", ErrFatalConfig)
	}
	return nil
}

// autoInterrupt reports whether the server cancels a response by itself
// when it detects user speech.
func (c Config) autoInterrupt() bool {
	return c.Session.TurnDetection != nil && c.Session.TurnDetection.InterruptResponse
}
