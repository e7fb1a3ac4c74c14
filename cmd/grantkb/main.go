// Package main provides the grantkb CLI for managing and querying
// grant-project knowledge bases.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fieldworks/grantkb/internal/chunker"
	"github.com/fieldworks/grantkb/internal/config"
	"github.com/fieldworks/grantkb/internal/embedding"
	"github.com/fieldworks/grantkb/internal/evaluate"
	"github.com/fieldworks/grantkb/internal/extract"
	"github.com/fieldworks/grantkb/internal/fingerprint"
	"github.com/fieldworks/grantkb/internal/generate"
	"github.com/fieldworks/grantkb/internal/ingest"
	"github.com/fieldworks/grantkb/internal/qcache"
	"github.com/fieldworks/grantkb/internal/retrieve"
	"github.com/fieldworks/grantkb/internal/vectorstore"
)

var rootCmd = &cobra.Command{
	Use:   "grantkb",
	Short: "Grant-project knowledge base tool",
	Long: `CLI for ingesting grant project documents into Qdrant and
answering evaluation queries over them.

Environment variables:
  QDRANT_HOST         Qdrant hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY      OpenAI API key (required)
  UNIDOC_LICENSE_KEY  UniPDF license key (required for PDF documents)
  EMBEDDING_MODEL     Embedding model (default: text-embedding-3-small)
  EMBEDDING_DIMENSION Embedding vector size (default: 1536)
  LLM_MODEL           Generation model (default: gpt-4o)
  GRANTKB_DATA_DIR    Directory for fingerprint and cache databases
  CHUNK_SIZE          Chunk window in characters (default: 1000)
  CHUNK_OVERLAP       Overlap between chunks (default: 200)
  TOP_K               Chunks retrieved per query (default: 5)
  INGEST_WORKERS      Documents embedded concurrently (default: 4)`,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <project> <directory>",
	Short: "Ingest a project's documents into its knowledge base",
	Long: `Scans the directory for supported documents (.txt, .md, .pdf, .docx)
and brings the project's knowledge base in sync with them. Unchanged documents are
skipped; modified documents are re-chunked and re-embedded; documents
removed from the directory are removed from the knowledge base.`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query <project> <query>",
	Short: "Retrieve the most similar chunks for a query",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

var askCmd = &cobra.Command{
	Use:   "ask <project> <question>",
	Short: "Ask a question about a project's documents",
	Args:  cobra.ExactArgs(2),
	RunE:  runAsk,
}

var eligibilityCmd = &cobra.Command{
	Use:   "eligibility <project> <criterion>...",
	Short: "Check a project against eligibility criteria",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runEligibility,
}

var reportCmd = &cobra.Command{
	Use:   "report <project>",
	Short: "Generate a detailed evaluation report for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend <project> <donor-priorities>",
	Short: "Generate a funding recommendation for a donor",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecommend,
}

var removeCmd = &cobra.Command{
	Use:   "remove <project>",
	Short: "Delete a project's knowledge base, fingerprints, and cached responses",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show what a project's knowledge base contains",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(eligibilityCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// engine bundles every component a command might need, so each RunE
// wires once and closes once.
type engine struct {
	cfg          *config.Config
	store        *vectorstore.Store
	fingerprints *fingerprint.Store
	cache        *qcache.Cache
	embedder     *embedding.Embedder
	retriever    *retrieve.Retriever
	evaluator    *evaluate.Evaluator
	pipeline     *ingest.Pipeline
}

func (e *engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
	if e.fingerprints != nil {
		e.fingerprints.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
}

func newEngine() (*engine, error) {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := vectorstore.New(cfg.QdrantHost, cfg.QdrantPort, cfg.EmbeddingDimension)
	if err != nil {
		return nil, fmt.Errorf("connect to Qdrant: %w", err)
	}

	e := &engine{cfg: cfg, store: store}
	fail := func(err error) (*engine, error) {
		e.Close()
		return nil, err
	}

	e.fingerprints, err = fingerprint.OpenStore(cfg.DataDir)
	if err != nil {
		return fail(fmt.Errorf("open fingerprint store: %w", err))
	}

	e.cache, err = qcache.Open(cfg.DataDir, nil)
	if err != nil {
		return fail(fmt.Errorf("open response cache: %w", err))
	}

	client, err := embedding.NewClient()
	if err != nil {
		return fail(err)
	}
	e.embedder = embedding.NewEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDimension, 0)

	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return fail(err)
	}

	registry := extract.DefaultRegistry()
	tracker := fingerprint.NewTracker(registry.Extensions())

	e.pipeline = ingest.NewPipeline(tracker, registry, splitter, e.embedder,
		e.store, e.fingerprints, e.cache, nil, cfg.IngestWorkers)
	e.retriever = retrieve.New(e.embedder, e.store, nil)

	generator := generate.NewClient(client.Client(), cfg.GenerationModel)
	e.evaluator = evaluate.New(e.retriever, generator, e.cache, cfg.TopK, nil)

	return e, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project, dir := args[0], args[1]
	start := time.Now()

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Printf("Ingesting %q from %s...\n", project, dir)
	result, err := e.pipeline.Run(ctx, project, dir)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Ingestion complete!")
	fmt.Printf("  Added:    %d\n", result.DocumentsAdded)
	fmt.Printf("  Updated:  %d\n", result.DocumentsUpdated)
	fmt.Printf("  Removed:  %d\n", result.DocumentsRemoved)
	fmt.Printf("  Chunks:   %d\n", result.ChunksWritten)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.Failed) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.Failed {
			fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project, query := args[0], args[1]

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	results, err := e.retriever.Retrieve(ctx, project, query, e.cfg.TopK)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No matching chunks. Has the project been ingested?")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. %s #%d (score %.4f)\n", i+1, r.SourcePath, r.Ordinal, r.Score)
		if r.Section != "" {
			fmt.Printf("   section: %s\n", r.Section)
		}
		fmt.Printf("   %s\n\n", snippet(r.Content, 200))
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project, question := args[0], args[1]

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	answer, err := e.evaluator.Ask(ctx, project, question)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	fmt.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Printf("\nSources: %s\n", strings.Join(answer.Sources, ", "))
	}
	return nil
}

func runEligibility(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project, criteria := args[0], args[1:]

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.evaluator.CheckEligibility(ctx, project, criteria)
	if err != nil {
		return fmt.Errorf("eligibility check failed: %w", err)
	}

	for _, c := range result.Criteria {
		mark := "FAIL"
		if c.Met {
			mark = "PASS"
		}
		fmt.Printf("[%s] %s\n       %s\n\n", mark, c.Criterion, snippet(c.Answer, 300))
	}
	fmt.Println(result.Summary)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project := args[0]

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Printf("Generating report for %q...\n\n", project)
	report, err := e.evaluator.DetailedReport(ctx, project)
	if err != nil {
		return fmt.Errorf("report failed: %w", err)
	}

	for _, section := range report.Sections {
		fmt.Printf("## %s\n\n%s\n", section.Section, section.Answer)
		if len(section.Sources) > 0 {
			fmt.Printf("\nSources: %s\n", strings.Join(section.Sources, ", "))
		}
		fmt.Println()
	}
	return nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project, priorities := args[0], args[1]

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := e.evaluator.Recommend(ctx, project, priorities)
	if err != nil {
		return fmt.Errorf("recommendation failed: %w", err)
	}

	fmt.Printf("Decision: %s\n\n%s\n", rec.Decision, rec.Rationale)
	if len(rec.Sources) > 0 {
		fmt.Printf("\nSources: %s\n", strings.Join(rec.Sources, ", "))
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project := args[0]

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.pipeline.RemoveProject(ctx, project); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	fmt.Printf("Removed project %q\n", project)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project := args[0]

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	records, err := e.fingerprints.Load(ctx, project)
	if err != nil {
		return fmt.Errorf("load fingerprints: %w", err)
	}
	chunks, err := e.store.CountChunks(ctx, vectorstore.CollectionName(project))
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}

	fmt.Printf("Project:    %s\n", project)
	fmt.Printf("Collection: %s\n", vectorstore.CollectionName(project))
	fmt.Printf("Documents:  %d\n", len(records))
	fmt.Printf("Chunks:     %d\n", chunks)
	return nil
}

// snippet returns s truncated to at most n runes with an ellipsis.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
