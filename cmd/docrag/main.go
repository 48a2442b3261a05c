package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/docrag/internal/config"
	"github.com/efebarandurmaz/docrag/internal/llm"
	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/pipeline"
	"github.com/efebarandurmaz/docrag/internal/report"
	"github.com/efebarandurmaz/docrag/internal/retriever"
	"github.com/efebarandurmaz/docrag/internal/vector/local"
	"github.com/efebarandurmaz/docrag/internal/watch"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

type ingestFlags struct {
	ocr          bool
	ocrEngine    string
	ocrLang      string
	ocrDPI       int
	ocrPages     string
	tesseractCmd string
	tessdataDir  string
	easyOCRCmd   string
	gpu          bool
	noGPU        bool
	dbDir        string
	recursive    bool
	noRecursive  bool
	workers      int
	yes          bool
	jsonReport   bool
}

type queryFlags struct {
	raw        bool
	numChunks  int
	threshold  float64
	dbDir      string
	jsonOutput bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(model.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	rootCmd := &cobra.Command{
		Use:           "docrag",
		Short:         "Ingest documents into a vector index and answer questions from them",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&rf.configPath, "config", "", "Config file path (default ./docrag.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newIngestCmd(&rf),
		newQueryCmd(&rf),
		newWatchCmd(&rf),
		newProvidersCmd(),
		newStatsCmd(&rf),
	)
	return rootCmd
}

func addIngestFlags(cmd *cobra.Command, f *ingestFlags) {
	cmd.Flags().BoolVar(&f.ocr, "ocr", false, "OCR PDFs that look scanned (see --ocr-pages for other page selections)")
	cmd.Flags().StringVar(&f.ocrEngine, "ocr-engine", "classical", "OCR engine: classical (tesseract) or neural (easyocr)")
	cmd.Flags().StringVar(&f.ocrLang, "ocr-lang", "eng", "OCR languages as classical codes joined with '+', e.g. eng+tha")
	cmd.Flags().IntVar(&f.ocrDPI, "ocr-dpi", 300, "Rasterization resolution for OCR")
	cmd.Flags().StringVar(&f.ocrPages, "ocr-pages", "auto", "Pages to OCR: auto, all or missing")
	cmd.Flags().StringVar(&f.tesseractCmd, "tesseract-cmd", "", "Path to the tesseract executable")
	cmd.Flags().StringVar(&f.tessdataDir, "tessdata-dir", "", "Tesseract language data directory")
	cmd.Flags().StringVar(&f.easyOCRCmd, "easyocr-cmd", "", "Path to the easyocr executable")
	cmd.Flags().BoolVar(&f.gpu, "gpu", true, "Use the GPU for neural OCR")
	cmd.Flags().BoolVar(&f.noGPU, "no-gpu", false, "Run neural OCR on the CPU")
	cmd.Flags().StringVar(&f.dbDir, "db-dir", "", "Local index directory (default db)")
	cmd.Flags().BoolVar(&f.recursive, "recursive", true, "Descend into subdirectories")
	cmd.Flags().BoolVar(&f.noRecursive, "no-recursive", false, "Only ingest files directly inside given directories")
	cmd.MarkFlagsMutuallyExclusive("gpu", "no-gpu")
	cmd.MarkFlagsMutuallyExclusive("recursive", "no-recursive")
}

// applyIngestFlags overrides cfg with the flags the user actually set.
func applyIngestFlags(cmd *cobra.Command, cfg *config.Config, f *ingestFlags) {
	flags := cmd.Flags()
	if flags.Changed("ocr-engine") {
		cfg.OCR.Engine = f.ocrEngine
	}
	if flags.Changed("ocr-lang") {
		cfg.OCR.Lang = f.ocrLang
	}
	if flags.Changed("ocr-dpi") {
		cfg.OCR.DPI = f.ocrDPI
	}
	if flags.Changed("ocr-pages") {
		cfg.OCR.Pages = f.ocrPages
	}
	if flags.Changed("tesseract-cmd") {
		cfg.OCR.TesseractCmd = f.tesseractCmd
	}
	if flags.Changed("tessdata-dir") {
		cfg.OCR.TessdataDir = f.tessdataDir
	}
	if flags.Changed("easyocr-cmd") {
		cfg.OCR.EasyOCRCmd = f.easyOCRCmd
	}
	if flags.Changed("gpu") {
		cfg.OCR.GPU = f.gpu
	}
	if f.noGPU {
		cfg.OCR.GPU = false
	}
	if flags.Changed("db-dir") {
		cfg.Index.Dir = f.dbDir
	}
	if flags.Changed("workers") {
		cfg.Ingest.Workers = f.workers
	}
}

func (f *ingestFlags) isRecursive() bool { return f.recursive && !f.noRecursive }

func newIngestCmd(rf *rootFlags) *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Load, chunk, embed and index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf.configPath, rf.logLevel)
			if err != nil {
				return err
			}
			applyIngestFlags(cmd, cfg, &f)
			return runIngest(cmd.Context(), cmd, cfg, &f, args)
		},
	}
	addIngestFlags(cmd, &f)
	cmd.Flags().IntVar(&f.workers, "workers", 1, "Documents ingested concurrently")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Continue without asking when the embedding service is unreachable")
	cmd.Flags().BoolVar(&f.jsonReport, "json", false, "Print the ingest report as JSON")
	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, cfg *config.Config, f *ingestFlags, paths []string) error {
	a, err := start(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ld, err := a.loader(f.ocr)
	if err != nil {
		return err
	}
	ch, err := a.chunker()
	if err != nil {
		return err
	}
	index, location, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	defer index.Close()
	emb, err := a.embeddingClient(index)
	if err != nil {
		return err
	}

	ingestor := pipeline.NewIngestor(ld, ch, emb, index,
		pipeline.WithRecursive(f.isRecursive()),
		pipeline.WithDocumentWorkers(cfg.Ingest.Workers),
		pipeline.WithConfirm(confirmContinue(cmd.InOrStdin(), cmd.ErrOrStderr(), f.yes)),
		pipeline.WithLogger(a.logger),
	)

	rep := report.NewIngest(cfg.Index.Backend, location)
	runErr := ingestor.Run(ctx, paths, rep)
	rep.Finish()
	if errors.Is(runErr, model.ErrServiceUnavailable) && len(rep.Documents) == 0 {
		return runErr
	}

	if f.jsonReport {
		data, err := rep.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		rep.PrintSummary(cmd.OutOrStdout())
	}
	return runErr
}

func newQueryCmd(rf *rootFlags) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   `query "<question>"`,
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf.configPath, rf.logLevel)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("num-chunks") {
				cfg.Query.NumChunks = f.numChunks
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Query.Threshold = f.threshold
			}
			if cmd.Flags().Changed("db-dir") {
				cfg.Index.Dir = f.dbDir
			}
			return runQuery(cmd.Context(), cmd, cfg, &f, args[0])
		},
	}
	cmd.Flags().BoolVar(&f.raw, "raw-chunks", false, "Print the retrieved chunks instead of generating an answer")
	cmd.Flags().IntVar(&f.numChunks, "num-chunks", 4, "Number of chunks to retrieve")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Drop chunks whose similarity is below this value")
	cmd.Flags().StringVar(&f.dbDir, "db-dir", "", "Local index directory (default db)")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Print the result as JSON")
	return cmd
}

// buildQuery checks query parameters before anything is opened.
func buildQuery(question string, raw bool, cfg *config.Config) (model.Query, error) {
	q := model.Query{Text: question, K: cfg.Query.NumChunks, Raw: raw}
	if cfg.Query.Threshold != 0 {
		t := float32(cfg.Query.Threshold)
		q.Threshold = &t
	}
	return q, q.Validate()
}

func runQuery(ctx context.Context, cmd *cobra.Command, cfg *config.Config, f *queryFlags, question string) error {
	q, err := buildQuery(question, f.raw, cfg)
	if err != nil {
		return err
	}
	a, err := start(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	index, _, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	defer index.Close()
	emb, err := a.embeddingClient(index)
	if err != nil {
		return err
	}

	var ans pipeline.Answerer
	if !q.Raw {
		gen, err := a.answerer()
		if err != nil {
			return err
		}
		if gen == nil {
			return fmt.Errorf("%w: no generation provider configured; use --raw-chunks", model.ErrInvalidQuery)
		}
		ans = gen
	}

	res, err := pipeline.NewQuerier(retriever.New(emb, index, a.logger), ans, a.logger).Run(ctx, q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case f.jsonOutput:
		data, err := res.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	case q.Raw:
		report.PrintChunks(out, res.Chunks)
	default:
		report.PrintAnswer(out, res.Answer, res.Chunks)
	}
	return nil
}

func newWatchCmd(rf *rootFlags) *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Re-ingest documents in a directory whenever they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf.configPath, rf.logLevel)
			if err != nil {
				return err
			}
			applyIngestFlags(cmd, cfg, &f)
			return runWatch(cmd.Context(), cmd, cfg, &f, args[0])
		},
	}
	addIngestFlags(cmd, &f)
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, f *ingestFlags, dir string) error {
	a, err := start(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ld, err := a.loader(f.ocr)
	if err != nil {
		return err
	}
	ch, err := a.chunker()
	if err != nil {
		return err
	}
	index, _, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	defer index.Close()
	emb, err := a.embeddingClient(index)
	if err != nil {
		return err
	}

	ingestor := pipeline.NewIngestor(ld, ch, emb, index, pipeline.WithLogger(a.logger))
	if err := ingestor.Preflight(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := watch.New(dir, ingestor,
		watch.WithRecursive(f.isRecursive()),
		watch.WithSupported(ld.Supported),
		watch.WithLogger(a.logger),
		watch.OnResult(func(res report.DocumentResult, err error) {
			if err != nil {
				fmt.Fprintf(out, "failed     %s: %v\n", res.Path, err)
				return
			}
			fmt.Fprintf(out, "%-10s %s (%d chunks)\n", res.Status, res.Path, res.Chunks)
		}),
	)
	return w.Run(ctx)
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List available embedding and generation providers",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			names := make([]string, 0, len(llm.KnownProviders))
			for name := range llm.KnownProviders {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Fprintln(out, "Available providers:")
			fmt.Fprintln(out)
			for _, name := range names {
				url := llm.KnownProviders[name]
				if url == "" {
					url = "(endpoint chosen by the SDK)"
				}
				fmt.Fprintf(out, "  %-14s %s\n", name, url)
			}
			fmt.Fprintln(out, "  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Configure in docrag.yaml or via environment:")
			fmt.Fprintln(out, "  DOCRAG_EMBEDDING_PROVIDER=openai")
			fmt.Fprintln(out, "  DOCRAG_EMBEDDING_MODEL=text-embedding-3-small")
			fmt.Fprintln(out, "  DOCRAG_LLM_PROVIDER=groq")
			fmt.Fprintln(out, "  DOCRAG_LLM_API_KEY=gsk_...")
		},
	}
}

func newStatsCmd(rf *rootFlags) *cobra.Command {
	var (
		dbDir      string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index backend, dimension and entry count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf.configPath, rf.logLevel)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db-dir") {
				cfg.Index.Dir = dbDir
			}
			a, err := start(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			index, location, err := a.openIndex(cmd.Context())
			if err != nil {
				return err
			}
			defer index.Close()
			n, err := index.Count(cmd.Context())
			if err != nil {
				return err
			}
			stats := report.IndexStats{
				Backend:   cfg.Index.Backend,
				Location:  location,
				Dimension: index.Dimension(),
				Entries:   n,
			}
			if s, ok := index.(*local.Store); ok {
				stats.Documents = s.Manifest().Documents
			}
			if jsonOutput {
				data, err := stats.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			report.PrintStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbDir, "db-dir", "", "Local index directory (default db)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print statistics as JSON")
	return cmd
}
