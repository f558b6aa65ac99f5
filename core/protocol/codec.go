package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var errMissingType = errors.New("missing type field")

type envelope struct {
	Type string `json:"type"`
}

type sessionBody struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type responseBody struct {
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Usage  *Usage `json:"usage"`
	} `json:"response"`
}

type speechBody struct {
	ItemID       string `json:"item_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type contentBody struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

type functionCallBody struct {
	ResponseID string `json:"response_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Decode turns one raw server message into an Event. Well formed messages
// of unhandled types decode to Unknown without error; everything else that
// cannot be read fails with a *DecodeError.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: errMissingType}
	}

	event, err := decodeBody(Kind(env.Type), raw)
	if err != nil {
		return nil, &DecodeError{Type: env.Type, Err: err}
	}
	return event, nil
}

func decodeBody(kind Kind, raw []byte) (Event, error) {
	switch kind {
	case KindSessionCreated, KindSessionUpdated:
		var body sessionBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		if kind == KindSessionCreated {
			return SessionCreated{SessionID: body.Session.ID}, nil
		}
		return SessionUpdated{SessionID: body.Session.ID}, nil

	case KindResponseCreated, KindResponseDone:
		var body responseBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		if kind == KindResponseCreated {
			return ResponseCreated{ID: body.Response.ID}, nil
		}
		done := ResponseDone{ID: body.Response.ID, Status: body.Response.Status}
		if body.Response.Usage != nil {
			done.Usage = *body.Response.Usage
		}
		return done, nil

	case KindSpeechStarted, KindSpeechStopped:
		var body speechBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		if kind == KindSpeechStarted {
			return SpeechStarted{ItemID: body.ItemID, AudioStartMs: body.AudioStartMs}, nil
		}
		return SpeechStopped{ItemID: body.ItemID, AudioEndMs: body.AudioEndMs}, nil

	case KindTextDelta, KindTextDone,
		KindAudioDelta, KindAudioDone,
		KindAudioTranscriptDelta, KindAudioTranscriptDone,
		KindInputTranscriptCompleted:
		var body contentBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return contentEvent(kind, body)

	case KindFunctionCallArgsDone:
		var body functionCallBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return FunctionCallArgsDone(body), nil

	case KindError:
		var body errorBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return Error{
			Type:    body.Error.Type,
			Code:    body.Error.Code,
			Message: body.Error.Message,
		}, nil
	}

	return Unknown{Type: string(kind)}, nil
}

func contentEvent(kind Kind, body contentBody) (Event, error) {
	switch kind {
	case KindTextDelta:
		return TextDelta{ResponseID: body.ResponseID, Delta: body.Delta}, nil
	case KindTextDone:
		return TextDone{ResponseID: body.ResponseID, Text: body.Text}, nil
	case KindAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(body.Delta)
		if err != nil {
			return nil, fmt.Errorf("invalid audio payload: %w", err)
		}
		return AudioDelta{ResponseID: body.ResponseID, Audio: audio}, nil
	case KindAudioDone:
		return AudioDone{ResponseID: body.ResponseID}, nil
	case KindAudioTranscriptDelta:
		return AudioTranscriptDelta{ResponseID: body.ResponseID, Delta: body.Delta}, nil
	case KindAudioTranscriptDone:
		return AudioTranscriptDone{ResponseID: body.ResponseID, Transcript: body.Transcript}, nil
	default:
		return InputTranscriptCompleted{ItemID: body.ItemID, Transcript: body.Transcript}, nil
	}
}

type sessionUpdateWire struct {
	Type    Kind          `json:"type"`
	Session SessionConfig `json:"session"`
}

type appendAudioWire struct {
	Type  Kind   `json:"type"`
	Audio string `json:"audio"`
}

type conversationItemWire struct {
	Type Kind `json:"type"`
	Item struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Output string `json:"output"`
	} `json:"item"`
}

type createResponseWire struct {
	Type     Kind `json:"type"`
	Response struct {
		Modalities   []string `json:"modalities,omitempty"`
		Instructions string   `json:"instructions,omitempty"`
	} `json:"response"`
}

type cancelResponseWire struct {
	Type       Kind   `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

const itemTypeFunctionCallOutput = "function_call_output"

// Encode serializes a command into a single text frame.
func Encode(cmd Command) ([]byte, error) {
	var wire any
	switch c := cmd.(type) {
	case SessionUpdate:
		wire = sessionUpdateWire{Type: c.Kind(), Session: c.Session}
	case AppendInputAudio:
		wire = appendAudioWire{Type: c.Kind(), Audio: base64.StdEncoding.EncodeToString(c.Audio)}
	case CreateFunctionCallOutput:
		w := conversationItemWire{Type: c.Kind()}
		w.Item.Type = itemTypeFunctionCallOutput
		w.Item.CallID = c.CallID
		w.Item.Output = c.Output
		wire = w
	case CreateResponse:
		w := createResponseWire{Type: c.Kind()}
		w.Response.Modalities = c.Modalities
		w.Response.Instructions = c.Instructions
		wire = w
	case CancelResponse:
		wire = cancelResponseWire{Type: c.Kind(), ResponseID: c.ResponseID}
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", ErrProtocol, cmd)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(wire); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", cmd.Kind(), err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeCommand is the inverse of Encode.
func DecodeCommand(raw []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	fail := func(err error) (Command, error) {
		return nil, &DecodeError{Type: env.Type, Err: err}
	}

	switch Kind(env.Type) {
	case KindSessionUpdate:
		var w sessionUpdateWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return fail(err)
		}
		return SessionUpdate{Session: w.Session}, nil
	case KindAppendInputAudio:
		var w appendAudioWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return fail(err)
		}
		audio, err := base64.StdEncoding.DecodeString(w.Audio)
		if err != nil {
			return fail(fmt.Errorf("invalid audio payload: %w", err))
		}
		return AppendInputAudio{Audio: audio}, nil
	case KindCreateConversationItem:
		var w conversationItemWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return fail(err)
		}
		if w.Item.Type != itemTypeFunctionCallOutput {
			return fail(fmt.Errorf("unsupported item type %q", w.Item.Type))
		}
		return CreateFunctionCallOutput{CallID: w.Item.CallID, Output: w.Item.Output}, nil
	case KindCreateResponse:
		var w createResponseWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return fail(err)
		}
		return CreateResponse{Modalities: w.Response.Modalities, Instructions: w.Response.Instructions}, nil
	case KindCancelResponse:
		var w cancelResponseWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return fail(err)
		}
		return CancelResponse{ResponseID: w.ResponseID}, nil
	case "":
		return fail(errMissingType)
	}
	return fail(fmt.Errorf("unknown command type"))
}
