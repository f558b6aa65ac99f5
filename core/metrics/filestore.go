package metrics

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const csvFileName = "call_metrics.csv"

var csvHeader = []string{
	"call_id", "session_id", "model", "started_at", "duration_seconds",
	"connect_seconds", "response_seconds", "lookup_seconds",
	"input_tokens", "output_tokens", "total_tokens",
	"input_cost", "output_cost", "total_cost",
	"input_audio_bytes", "output_audio_bytes",
	"responses", "barge_ins", "lookups_used", "lookups_found", "success",
}

// FileStore persists call summaries under a base directory:
// metrics/<call>.json, transcripts/<call>.txt and a cumulative
// metrics/call_metrics.csv.
type FileStore struct {
	metricsDir     string
	transcriptsDir string

	mu sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{
		metricsDir:     filepath.Join(dir, "metrics"),
		transcriptsDir: filepath.Join(dir, "transcripts"),
	}
}

func (s *FileStore) Save(summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range []string{s.metricsDir, s.transcriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return errors.Join(
		s.saveJSON(summary),
		s.saveTranscript(summary),
		s.appendCSV(summary),
	)
}

func (s *FileStore) saveJSON(summary Summary) error {
	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal call summary: %w", err)
	}
	path := filepath.Join(s.metricsDir, summary.CallID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write call summary: %w", err)
	}
	return nil
}

func (s *FileStore) saveTranscript(summary Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "LLAMADA: %s\n", summary.CallID)
	fmt.Fprintf(&b, "FECHA: %s\n", summary.StartedAt.Format(time.RFC3339))
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	for _, line := range summary.Transcripts {
		fmt.Fprintf(&b, "[%s] %s:\n%s\n\n", line.At.Format(time.TimeOnly), transcriptLabel(line.Kind), line.Text)
	}

	path := filepath.Join(s.transcriptsDir, summary.CallID+".txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

func transcriptLabel(kind TranscriptKind) string {
	switch kind {
	case TranscriptUser:
		return "USUARIO"
	case TranscriptAssistant:
		return "ASISTENTE"
	case TranscriptKnowledge:
		return "RESPUESTA BASE DE CONOCIMIENTO"
	}
	return strings.ToUpper(string(kind))
}

func (s *FileStore) appendCSV(summary Summary) error {
	path := filepath.Join(s.metricsDir, csvFileName)
	_, statErr := os.Stat(path)
	writeHeader := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open metrics csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write metrics csv header: %w", err)
		}
	}
	if err := w.Write(csvRecord(summary)); err != nil {
		return fmt.Errorf("failed to write metrics csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush metrics csv: %w", err)
	}
	return nil
}

func csvRecord(s Summary) []string {
	seconds := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	usd := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	return []string{
		s.CallID,
		s.SessionID,
		s.Model,
		s.StartedAt.Format(time.RFC3339),
		seconds(s.Duration),
		seconds(s.Steps[StepConnect]),
		seconds(s.Steps[StepResponse]),
		seconds(s.Steps[StepLookup]),
		strconv.Itoa(s.Tokens.Input),
		strconv.Itoa(s.Tokens.Output),
		strconv.Itoa(s.Tokens.Total),
		usd(s.Costs.Input),
		usd(s.Costs.Output),
		usd(s.Costs.Total),
		strconv.FormatInt(s.Audio.InputBytes, 10),
		strconv.FormatInt(s.Audio.OutputBytes, 10),
		strconv.Itoa(s.Responses),
		strconv.Itoa(s.BargeIns),
		strconv.Itoa(s.Lookups.Used),
		strconv.Itoa(s.Lookups.Found),
		strconv.FormatBool(s.Success),
	}
}
