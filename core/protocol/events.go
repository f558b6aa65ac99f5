package protocol

import "strings"

// Kind is the wire "type" of an event or command.
type Kind string

const (
	KindSessionCreated           Kind = "session.created"
	KindSessionUpdated           Kind = "session.updated"
	KindResponseCreated          Kind = "response.created"
	KindResponseDone             Kind = "response.done"
	KindSpeechStarted            Kind = "input_audio_buffer.speech_started"
	KindSpeechStopped            Kind = "input_audio_buffer.speech_stopped"
	KindTextDelta                Kind = "response.text.delta"
	KindTextDone                 Kind = "response.text.done"
	KindAudioDelta               Kind = "response.audio.delta"
	KindAudioDone                Kind = "response.audio.done"
	KindAudioTranscriptDelta     Kind = "response.audio_transcript.delta"
	KindAudioTranscriptDone      Kind = "response.audio_transcript.done"
	KindInputTranscriptCompleted Kind = "conversation.item.input_audio_transcription.completed"
	KindFunctionCallArgsDone     Kind = "response.function_call_arguments.done"
	KindError                    Kind = "error"

	KindSessionUpdate          Kind = "session.update"
	KindAppendInputAudio       Kind = "input_audio_buffer.append"
	KindCreateConversationItem Kind = "conversation.item.create"
	KindCreateResponse         Kind = "response.create"
	KindCancelResponse         Kind = "response.cancel"
)

// Event is an inbound message decoded from the wire. The set of
// implementations is closed; anything unrecognised decodes to Unknown.
type Event interface {
	Kind() Kind
	isEvent()
}

type SessionCreated struct {
	SessionID string
}

type SessionUpdated struct {
	SessionID string
}

type ResponseCreated struct {
	ID string
}

// Usage is the token accounting reported with a finished response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

type ResponseDone struct {
	ID     string
	Status string
	Usage  Usage
}

type SpeechStarted struct {
	ItemID       string
	AudioStartMs int
}

type SpeechStopped struct {
	ItemID     string
	AudioEndMs int
}

type TextDelta struct {
	ResponseID string
	Delta      string
}

type TextDone struct {
	ResponseID string
	Text       string
}

// AudioDelta carries decoded PCM bytes, the base64 wire encoding is
// handled by the codec.
type AudioDelta struct {
	ResponseID string
	Audio      []byte
}

type AudioDone struct {
	ResponseID string
}

type AudioTranscriptDelta struct {
	ResponseID string
	Delta      string
}

type AudioTranscriptDone struct {
	ResponseID string
	Transcript string
}

// InputTranscriptCompleted is the server side transcription of what the
// user said.
type InputTranscriptCompleted struct {
	ItemID     string
	Transcript string
}

type FunctionCallArgsDone struct {
	ResponseID string
	CallID     string
	Name       string
	Arguments  string
}

type Error struct {
	Type    string
	Code    string
	Message string
}

const benignCancelMessage = "Cancellation failed: no active response found"

// IsBenign reports errors that only mean a cancel raced with the end of a
// response.
func (e Error) IsBenign() bool {
	if e.Code == "response_cancel_not_active" {
		return true
	}
	return strings.Contains(e.Message, benignCancelMessage) ||
		strings.Contains(strings.ToLower(e.Message), "no active response")
}

// Unknown is any well-formed event whose type is not handled.
type Unknown struct {
	Type string
}

func (SessionCreated) Kind() Kind           { return KindSessionCreated }
func (SessionUpdated) Kind() Kind           { return KindSessionUpdated }
func (ResponseCreated) Kind() Kind          { return KindResponseCreated }
func (ResponseDone) Kind() Kind             { return KindResponseDone }
func (SpeechStarted) Kind() Kind            { return KindSpeechStarted }
func (SpeechStopped) Kind() Kind            { return KindSpeechStopped }
func (TextDelta) Kind() Kind                { return KindTextDelta }
func (TextDone) Kind() Kind                 { return KindTextDone }
func (AudioDelta) Kind() Kind               { return KindAudioDelta }
func (AudioDone) Kind() Kind                { return KindAudioDone }
func (AudioTranscriptDelta) Kind() Kind     { return KindAudioTranscriptDelta }
func (AudioTranscriptDone) Kind() Kind      { return KindAudioTranscriptDone }
func (InputTranscriptCompleted) Kind() Kind { return KindInputTranscriptCompleted }
func (FunctionCallArgsDone) Kind() Kind     { return KindFunctionCallArgsDone }
func (Error) Kind() Kind                    { return KindError }
func (u Unknown) Kind() Kind                { return Kind(u.Type) }

func (SessionCreated) isEvent()           {}
func (SessionUpdated) isEvent()           {}
func (ResponseCreated) isEvent()          {}
func (ResponseDone) isEvent()             {}
func (SpeechStarted) isEvent()            {}
func (SpeechStopped) isEvent()            {}
func (TextDelta) isEvent()                {}
func (TextDone) isEvent()                 {}
func (AudioDelta) isEvent()               {}
func (AudioDone) isEvent()                {}
func (AudioTranscriptDelta) isEvent()     {}
func (AudioTranscriptDone) isEvent()      {}
func (InputTranscriptCompleted) isEvent() {}
func (FunctionCallArgsDone) isEvent()     {}
func (Error) isEvent()                    {}
func (Unknown) isEvent()                  {}
