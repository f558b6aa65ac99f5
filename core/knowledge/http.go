package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HTTPRetriever asks a remote search service. The service receives
// {"question","threshold","max_results"} and replies {"answers":[...]}.
type HTTPRetriever struct {
	url    string
	client *http.Client
}

var _ Retriever = (*HTTPRetriever)(nil)

type HTTPRetrieverOption func(*HTTPRetriever)

func WithHTTPClient(client *http.Client) HTTPRetrieverOption {
	return func(r *HTTPRetriever) {
		if client != nil {
			r.client = client
		}
	}
}

func NewHTTPRetriever(url string, opts ...HTTPRetrieverOption) *HTTPRetriever {
	r := &HTTPRetriever{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, _ *http.Request) string {
					return "knowledge search"
				})),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type searchRequest struct {
	Question   string  `json:"question"`
	Threshold  float64 `json:"threshold"`
	MaxResults int     `json:"max_results"`
}

type searchResponse struct {
	Answers []string `json:"answers"`
}

func (r *HTTPRetriever) Lookup(ctx context.Context, question string, threshold float64, maxResults int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "http lookup")
	defer span.End()

	body, err := json.Marshal(searchRequest{Question: question, Threshold: threshold, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to send search request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("search service returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	answers := parsed.Answers
	if maxResults > 0 && len(answers) > maxResults {
		answers = answers[:maxResults]
	}
	span.SetAttributes(attribute.Int("knowledge.answers", len(answers)))
	return answers, nil
}
