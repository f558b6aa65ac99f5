package metrics

import (
	"time"
)

type TranscriptLine struct {
	Kind TranscriptKind `json:"kind"`
	Text string         `json:"text"`
	At   time.Time      `json:"at"`
}

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

type AudioUsage struct {
	InputBytes    int64   `json:"input_size_bytes"`
	OutputBytes   int64   `json:"output_size_bytes"`
	InputSeconds  float64 `json:"input_duration_seconds"`
	OutputSeconds float64 `json:"output_duration_seconds"`
}

type LookupUsage struct {
	Used  int `json:"used"`
	Found int `json:"found_answer"`
}

// Summary is everything recorded about one call.
type Summary struct {
	CallID             string             `json:"call_id"`
	SessionID          string             `json:"session_id,omitempty"`
	Model              string             `json:"model,omitempty"`
	StartedAt          time.Time          `json:"started_at"`
	EndedAt            time.Time          `json:"ended_at"`
	Duration           float64            `json:"duration_seconds"`
	Steps              map[string]float64 `json:"steps"`
	Tokens             TokenUsage         `json:"tokens"`
	Costs              Costs              `json:"costs"`
	Audio              AudioUsage         `json:"audio"`
	Responses          int                `json:"responses"`
	CompletedResponses int                `json:"completed_responses"`
	BargeIns           int                `json:"barge_ins"`
	Lookups            LookupUsage        `json:"lookups"`
	Success            bool               `json:"success"`
	Transcripts        []TranscriptLine   `json:"transcripts"`
}

func (s Summary) clone() Summary {
	out := s
	out.Steps = make(map[string]float64, len(s.Steps))
	for k, v := range s.Steps {
		out.Steps[k] = v
	}
	out.Transcripts = append([]TranscriptLine(nil), s.Transcripts...)
	return out
}
