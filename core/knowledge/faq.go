package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// FAQEntry is one question/answer pair of the FAQ file.
type FAQEntry struct {
	Question string `json:"pregunta"`
	Answer   string `json:"respuesta"`
}

type faqFile struct {
	Questions []FAQEntry `json:"preguntas"`
}

type indexedEntry struct {
	FAQEntry
	vector map[string]float64
	norm   float64
}

// FAQIndex matches questions against a local FAQ list by cosine similarity
// of accent and case folded terms.
type FAQIndex struct {
	entries []indexedEntry
}

var _ Retriever = (*FAQIndex)(nil)

// LoadFAQIndex reads a {"preguntas":[{"pregunta":..,"respuesta":..}]} file.
func LoadFAQIndex(path string) (*FAQIndex, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read faq file: %w", err)
	}

	var file faqFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse faq file %s: %w", path, err)
	}

	index := NewFAQIndex(file.Questions)
	logger.Info("faq index loaded", "path", path, "entries", len(index.entries))
	return index, nil
}

func NewFAQIndex(entries []FAQEntry) *FAQIndex {
	index := &FAQIndex{entries: make([]indexedEntry, 0, len(entries))}
	for _, entry := range entries {
		if entry.Question == "" || entry.Answer == "" {
			continue
		}
		vector := terms(entry.Question)
		index.entries = append(index.entries, indexedEntry{
			FAQEntry: entry,
			vector:   vector,
			norm:     vectorNorm(vector),
		})
	}
	return index
}

func (i *FAQIndex) Len() int { return len(i.entries) }

// Entries returns the indexed pairs in file order.
func (i *FAQIndex) Entries() []FAQEntry {
	out := make([]FAQEntry, len(i.entries))
	for n, entry := range i.entries {
		out[n] = entry.FAQEntry
	}
	return out
}

type scoredEntry struct {
	answer string
	score  float64
}

// Lookup ranks every entry and returns answers in order until the first
// one below threshold.
func (i *FAQIndex) Lookup(ctx context.Context, question string, threshold float64, maxResults int) ([]string, error) {
	_, span := tracer.Start(ctx, "faq lookup")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	query := terms(question)
	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	scored := make([]scoredEntry, 0, len(i.entries))
	for _, entry := range i.entries {
		if entry.norm == 0 {
			continue
		}
		var dot float64
		for term, weight := range query {
			dot += weight * entry.vector[term]
		}
		scored = append(scored, scoredEntry{
			answer: entry.Answer,
			score:  dot / (queryNorm * entry.norm),
		})
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].score > scored[b].score })

	answers := make([]string, 0, maxResults)
	for rank, candidate := range scored {
		if rank >= maxResults || candidate.score < threshold {
			break
		}
		logger.Debug("faq candidate", "rank", rank+1, "score", candidate.score)
		answers = append(answers, candidate.answer)
	}

	span.SetAttributes(attribute.Int("faq.answers", len(answers)))
	return answers, nil
}

func vectorNorm(vector map[string]float64) float64 {
	var sum float64
	for _, weight := range vector {
		sum += weight * weight
	}
	return math.Sqrt(sum)
}
