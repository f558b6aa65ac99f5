package protocol

import (
	"encoding/json"
	"fmt"
)

// Command is an outbound message encoded to the wire.
type Command interface {
	Kind() Kind
	isCommand()
}

type SessionUpdate struct {
	Session SessionConfig
}

// AppendInputAudio carries raw PCM bytes, base64 encoded on the wire.
type AppendInputAudio struct {
	Audio []byte
}

type CreateFunctionCallOutput struct {
	CallID string
	Output string
}

type CreateResponse struct {
	Modalities   []string
	Instructions string
}

type CancelResponse struct {
	ResponseID string
}

func (SessionUpdate) Kind() Kind            { return KindSessionUpdate }
func (AppendInputAudio) Kind() Kind         { return KindAppendInputAudio }
func (CreateFunctionCallOutput) Kind() Kind { return KindCreateConversationItem }
func (CreateResponse) Kind() Kind           { return KindCreateResponse }
func (CancelResponse) Kind() Kind           { return KindCancelResponse }

func (SessionUpdate) isCommand()            {}
func (AppendInputAudio) isCommand()         {}
func (CreateFunctionCallOutput) isCommand() {}
func (CreateResponse) isCommand()           {}
func (CancelResponse) isCommand()           {}

// SessionConfig is forwarded as is in session.update. The engine never
// interprets the numbers it carries.
type SessionConfig struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Tools                   []Tool         `json:"tools,omitempty"`
	ToolChoice              *ToolChoice    `json:"tool_choice,omitempty"`
	Temperature             *float64       `json:"temperature,omitempty"`
	MaxResponseOutputTokens int            `json:"max_response_output_tokens,omitempty"`
}

type Transcription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// Tool is a function declaration. Parameters holds the JSON schema verbatim.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolChoice is either a mode ("auto", "none", "required") or a forced
// function.
type ToolChoice struct {
	Mode     string
	Function string
}

func ToolChoiceMode(mode string) *ToolChoice { return &ToolChoice{Mode: mode} }

func ToolChoiceFunction(name string) *ToolChoice { return &ToolChoice{Function: name} }

func (c ToolChoice) MarshalJSON() ([]byte, error) {
	if c.Function != "" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Name string `json:"name"`
		}{Type: "function", Name: c.Function})
	}
	return json.Marshal(c.Mode)
}

func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		*c = ToolChoice{Mode: mode}
		return nil
	}

	var forced struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &forced); err != nil {
		return fmt.Errorf("failed to parse tool choice: %w", err)
	}
	if forced.Type != "function" || forced.Name == "" {
		return fmt.Errorf("unsupported tool choice %q", string(data))
	}
	*c = ToolChoice{Function: forced.Name}
	return nil
}
