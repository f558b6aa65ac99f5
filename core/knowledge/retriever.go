package knowledge

import "context"

const (
	DefaultThreshold  = 0.5
	DefaultMaxResults = 3
)

// Retriever answers a question with up to maxResults answers ranked by
// relevance. An empty result means nothing scored at or above threshold.
type Retriever interface {
	Lookup(ctx context.Context, question string, threshold float64, maxResults int) ([]string, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, question string, threshold float64, maxResults int) ([]string, error)

func (f RetrieverFunc) Lookup(ctx context.Context, question string, threshold float64, maxResults int) ([]string, error) {
	return f(ctx, question, threshold, maxResults)
}
