package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresRetriever ranks FAQ rows with pg_trgm similarity over an accent
// folded copy of the question.
type PostgresRetriever struct {
	pool *pgxpool.Pool
}

var _ Retriever = (*PostgresRetriever)(nil)

func NewPostgresRetriever(ctx context.Context, databaseURL string) (*PostgresRetriever, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initFAQSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRetriever{pool: pool}, nil
}

func initFAQSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm;`,
		`CREATE TABLE IF NOT EXISTS faq_entries (
			id BIGSERIAL PRIMARY KEY,
			question TEXT NOT NULL,
			question_folded TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_faq_entries_question_trgm
			ON faq_entries USING gin (question_folded gin_trgm_ops);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Import loads FAQ entries, replacing whatever was stored before.
func (r *PostgresRetriever) Import(ctx context.Context, entries []FAQEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM faq_entries`); err != nil {
		return fmt.Errorf("clear faq entries: %w", err)
	}
	for _, entry := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO faq_entries (question, question_folded, answer) VALUES ($1, $2, $3)`,
			entry.Question, fold(entry.Question), entry.Answer,
		); err != nil {
			return fmt.Errorf("insert faq entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func (r *PostgresRetriever) Lookup(ctx context.Context, question string, threshold float64, maxResults int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres lookup")
	defer span.End()

	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	rows, err := r.pool.Query(ctx,
		`SELECT answer, similarity(question_folded, $1) AS score
		 FROM faq_entries
		 ORDER BY score DESC, id ASC
		 LIMIT $2`,
		fold(question),
		maxResults,
	)
	if err != nil {
		err = fmt.Errorf("query faq entries: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	answers := make([]string, 0, maxResults)
	for rows.Next() {
		var (
			answer string
			score  float64
		)
		if err := rows.Scan(&answer, &score); err != nil {
			return nil, fmt.Errorf("scan faq row: %w", err)
		}
		if score < threshold {
			break
		}
		answers = append(answers, answer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faq rows: %w", err)
	}

	span.SetAttributes(attribute.Int("knowledge.answers", len(answers)))
	return answers, nil
}

func (r *PostgresRetriever) Close() error {
	r.pool.Close()
	return nil
}
