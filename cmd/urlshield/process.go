package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/urlshield/urlshield/internal/classify"
	"github.com/urlshield/urlshield/internal/cli"
	"github.com/urlshield/urlshield/internal/config"
	"github.com/urlshield/urlshield/internal/coordinator"
	"github.com/urlshield/urlshield/internal/crawler"
	"github.com/urlshield/urlshield/internal/input"
	"github.com/urlshield/urlshield/internal/matcher"
	"github.com/urlshield/urlshield/internal/prefilter"
	"github.com/urlshield/urlshield/internal/service"
	"github.com/urlshield/urlshield/internal/vector"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a URL list file through the compliance pipeline",
		Long: `Read URLs from a tabular file (CSV, TSV, or XLSX), filter out dead
domains, fetch each page, search it for brand mentions, and classify
the result. Confirmed violations are appended to the blacklist ledger.

Already-processed URLs are skipped, so re-running after an interrupt
resumes where the previous run stopped.`,
		RunE: runProcess,
	}

	// Flags
	cmd.Flags().StringP("file", "f", "", "URL list file to process (required)")
	cmd.Flags().String("column", "Referring page URL", "header name of the URL column")
	cmd.Flags().Int("offset", 0, "skip the first N URLs")
	cmd.Flags().Int("limit", 0, "process at most N URLs (0 = all)")
	cmd.Flags().Int("batch-size", 100, "URLs per batch")
	cmd.Flags().Int("workers", 5, "concurrent URL workers")
	_ = cmd.MarkFlagRequired("file")

	// Bind to viper
	_ = viper.BindPFlag("process.column", cmd.Flags().Lookup("column"))
	_ = viper.BindPFlag("process.offset", cmd.Flags().Lookup("offset"))
	_ = viper.BindPFlag("process.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("process.batch_size", cmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("process.workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runProcess(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("file")
	file = config.ExpandPath(file)

	urls, err := input.ReadURLs(file, input.Options{
		Column: viper.GetString("process.column"),
		Offset: viper.GetInt("process.offset"),
		Limit:  viper.GetInt("process.limit"),
	})
	if err != nil {
		return fmt.Errorf("failed to read URL list: %w", err)
	}
	if len(urls) == 0 {
		slog.Info(cli.FormatWarning("No URLs to process"))
		return nil
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	ledger, err := openBlacklist()
	if err != nil {
		return err
	}

	coord, err := buildCoordinator(store, ledger)
	if err != nil {
		return err
	}

	// Recover outcomes stranded by a previous storage outage.
	if replayed, err := coord.ReplayPending(ctx); err != nil {
		slog.Warn("replay of stranded outcomes incomplete", "error", err)
	} else if replayed > 0 {
		slog.Info(cli.FormatInfo(fmt.Sprintf("Recovered %d stranded outcomes", replayed)))
	}

	slog.Info(cli.FormatTitle(fmt.Sprintf("Processing %d URLs from %s", len(urls), file)))

	batchSize := viper.GetInt("process.batch_size")
	if batchSize <= 0 {
		batchSize = 100
	}

	var total service.CompletionStats
	start := time.Now()
	for offset := 0; offset < len(urls); offset += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := offset + batchSize
		if end > len(urls) {
			end = len(urls)
		}

		stats, err := coord.ProcessBatch(ctx, urls[offset:end], file)
		if err != nil {
			return fmt.Errorf("batch failed: %w", err)
		}
		accumulate(&total, stats)
	}
	total.Duration = time.Since(start)

	printSummary(&total, ledger.Len())
	return nil
}

// buildCoordinator assembles the pipeline from configuration. Backends,
// escalation providers, and the vector index are all optional; the pipeline
// degrades to whatever is configured.
func buildCoordinator(store service.Storage, ledger coordinator.Ledger) (*coordinator.Coordinator, error) {
	terms := viper.GetStringSlice("match.terms")
	if len(terms) == 0 {
		return nil, fmt.Errorf("no brand terms configured (set match.terms)")
	}

	var index *vector.Client
	if baseURL := viper.GetString("vector.base_url"); baseURL != "" {
		var err error
		index, err = vector.New(vector.Config{
			BaseURL: baseURL,
			APIKey:  viper.GetString("vector.api_key"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build vector client: %w", err)
		}
	}

	matchCfg := matcher.Config{
		Terms:         terms,
		ContextWindow: viper.GetInt("match.context_window"),
	}
	if index != nil {
		matchCfg.Semantic = &matcher.SemanticConfig{
			Index:     index,
			Threshold: viper.GetFloat64("match.semantic_threshold"),
		}
	}
	mentionMatcher, err := matcher.New(matchCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build matcher: %w", err)
	}

	backends, err := buildBackends()
	if err != nil {
		return nil, err
	}
	orchestrator, err := crawler.NewOrchestrator(backends...)
	if err != nil {
		return nil, fmt.Errorf("failed to build crawler: %w", err)
	}

	classifier, err := buildClassifier()
	if err != nil {
		return nil, err
	}

	var prober coordinator.Prefilterer
	if viper.GetBool("prefilter.enabled") || !viper.IsSet("prefilter.enabled") {
		skippedPath := config.ExpandPath(viper.GetString("prefilter.skipped_path"))
		prober = prefilter.New(prefilter.Config{
			Timeout:     viper.GetDuration("prefilter.timeout"),
			MaxWorkers:  viper.GetInt("prefilter.workers"),
			DeadDomains: viper.GetStringSlice("prefilter.dead_domains"),
			SkippedPath: skippedPath,
		})
	}

	replay, err := replayPath()
	if err != nil {
		return nil, err
	}

	cfg := coordinator.Config{
		Storage:             store,
		Prefilter:           prober,
		Fetcher:             orchestrator,
		Matcher:             mentionMatcher,
		Classifier:          classifier,
		Blacklist:           ledger,
		ProgressWriter:      os.Stderr,
		ReplayPath:          replay,
		MaxWorkers:          viper.GetInt("process.workers"),
		ConfidenceThreshold: viper.GetFloat64("blacklist.confidence_threshold"),
	}
	if index != nil {
		cfg.Dedup = index
	}
	return coordinator.New(cfg)
}

// buildBackends returns the fetch chain in priority order: firecrawl, then
// the headless renderer, then direct HTTP. Direct is always available.
func buildBackends() ([]crawler.Backend, error) {
	var backends []crawler.Backend

	if key := viper.GetString("crawler.firecrawl.api_key"); key != "" {
		backend, err := crawler.NewFirecrawl(crawler.FirecrawlConfig{
			APIKey:  key,
			BaseURL: viper.GetString("crawler.firecrawl.base_url"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build firecrawl backend: %w", err)
		}
		backends = append(backends, backend)
	}

	if baseURL := viper.GetString("crawler.headless.base_url"); baseURL != "" {
		backend, err := crawler.NewHeadless(crawler.HeadlessConfig{
			BaseURL: baseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build headless backend: %w", err)
		}
		backends = append(backends, backend)
	}

	direct, err := crawler.NewDirect(crawler.DirectConfig{
		UserAgent: viper.GetString("crawler.direct.user_agent"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build direct backend: %w", err)
	}
	backends = append(backends, direct)

	return backends, nil
}

// buildClassifier assembles the escalation chain from whichever providers
// have keys configured. With no providers the classifier still runs on
// pattern rules alone.
func buildClassifier() (*classify.Classifier, error) {
	rules, err := classify.NewRuleSet(classify.DefaultRules())
	if err != nil {
		return nil, fmt.Errorf("failed to compile compliance rules: %w", err)
	}

	var chain []classify.Client
	if key := viper.GetString("llm.openrouter.api_key"); key != "" {
		client, err := classify.NewOpenRouter(classify.ProviderConfig{
			APIKey: key,
			Model:  viper.GetString("llm.openrouter.model"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build openrouter client: %w", err)
		}
		chain = append(chain, client)
	}
	if key := viper.GetString("llm.openai.api_key"); key != "" {
		client, err := classify.NewOpenAI(classify.ProviderConfig{
			APIKey: key,
			Model:  viper.GetString("llm.openai.model"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build openai client: %w", err)
		}
		chain = append(chain, client)
	}
	if len(chain) == 0 {
		slog.Warn("no LLM providers configured, classification runs on pattern rules only")
	}

	return classify.New(rules, chain...), nil
}

func accumulate(total *service.CompletionStats, stats *service.CompletionStats) {
	total.Total += stats.Total
	total.Processed += stats.Processed
	total.FilteredOut += stats.FilteredOut
	total.Errored += stats.Errored
	total.Blacklisted += stats.Blacklisted
	total.Whitelisted += stats.Whitelisted
	total.Review += stats.Review
	total.CacheHits += stats.CacheHits
}

func printSummary(stats *service.CompletionStats, ledgerSize int) {
	content := fmt.Sprintf(`Processed:    %d / %d
Blacklisted:  %s
Whitelisted:  %s
Needs review: %s
Filtered out: %d
Errored:      %d
Cache hits:   %d
Ledger size:  %d URLs
Elapsed:      %s`,
		stats.Processed, stats.Total,
		cli.StyleError(fmt.Sprintf("%d", stats.Blacklisted)),
		cli.StyleSuccess(fmt.Sprintf("%d", stats.Whitelisted)),
		cli.StyleWarning(fmt.Sprintf("%d", stats.Review)),
		stats.FilteredOut,
		stats.Errored,
		stats.CacheHits,
		ledgerSize,
		stats.Duration.Round(time.Millisecond))

	slog.Info(cli.RenderBox(fmt.Sprintf("%s Compliance Scan", cli.ChartIcon), content))
}
