// Package evaluate builds grant-evaluation workflows on top of
// retrieval and generation: ad-hoc questions, eligibility checks,
// detailed reports, and donor recommendations. Every answer flows
// through the response cache, so repeated analytical queries over an
// unchanged knowledge base cost nothing.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/fieldworks/grantkb/internal/qcache"
	"github.com/fieldworks/grantkb/internal/retrieve"
)

const analystSystemPrompt = "You are an AI assistant specialized in analyzing grant applications " +
	"and project documents. You will be provided with context chunks from a project's documents. " +
	"Use this information to answer the query accurately and concisely. " +
	"If the information is not in the context, state that clearly. " +
	"Include specific facts, figures, and quotes from the documents when relevant. " +
	"Always cite your sources when quoting from specific documents."

// Retriever returns ranked chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, project, query string, topK int) ([]retrieve.Result, error)
}

// Generator produces a completion for a prompt pair.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Answer is a generated response with its citations.
type Answer struct {
	Answer      string    `json:"answer"`
	Sources     []string  `json:"sources"`
	ContextUsed int       `json:"context_used"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Evaluator answers questions about a project's documents.
type Evaluator struct {
	retriever Retriever
	generator Generator
	cache     *qcache.Cache
	topK      int
	logger    *slog.Logger
}

// New creates an Evaluator. topK controls how many chunks back each
// answer.
func New(retriever Retriever, generator Generator, cache *qcache.Cache, topK int, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		retriever: retriever,
		generator: generator,
		cache:     cache,
		topK:      topK,
		logger:    logger,
	}
}

// Ask retrieves context for the question and generates a cited answer.
// Responses are cached per (project, normalized question, parameters);
// the ingestion pipeline invalidates them when the knowledge base
// changes.
func (e *Evaluator) Ask(ctx context.Context, project, question string) (*Answer, error) {
	params := qcache.Params{TopK: e.topK, Model: e.generator.Model()}

	raw, cached, err := e.cache.GetOrCompute(ctx, project, question, params,
		func(ctx context.Context) (string, error) {
			answer, err := e.compute(ctx, project, question)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(answer)
			if err != nil {
				return "", fmt.Errorf("encode answer: %w", err)
			}
			return string(data), nil
		})
	if err != nil {
		return nil, err
	}
	if cached {
		e.logger.Debug("Answer served from cache", "project", project)
	}

	var answer Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, fmt.Errorf("decode cached answer: %w", err)
	}
	return &answer, nil
}

func (e *Evaluator) compute(ctx context.Context, project, question string) (*Answer, error) {
	chunks, err := e.retriever.Retrieve(ctx, project, question, e.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	contextText, sources := formatContext(chunks)

	user := fmt.Sprintf("Query: %s\n\nContext from project documents:\n%s", question, contextText)
	text, err := e.generator.Generate(ctx, analystSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &Answer{
		Answer:      text,
		Sources:     sources,
		ContextUsed: len(chunks),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// formatContext renders retrieved chunks as numbered context blocks and
// collects the distinct source file names in retrieval order.
func formatContext(chunks []retrieve.Result) (string, []string) {
	if len(chunks) == 0 {
		return "No relevant information found in the project documents.", nil
	}

	var b strings.Builder
	var sources []string
	seen := make(map[string]bool)
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[CHUNK %d] (source: %s) %s\n\n", i+1, chunk.SourcePath, chunk.Content)
		name := path.Base(chunk.SourcePath)
		if !seen[name] {
			seen[name] = true
			sources = append(sources, name)
		}
	}
	return b.String(), sources
}
