package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/echoai/visibility-engine/infrastructure/extract"
	"github.com/echoai/visibility-engine/infrastructure/llm"
	"github.com/echoai/visibility-engine/infrastructure/middleware"
	"github.com/echoai/visibility-engine/internal/application"
	"github.com/echoai/visibility-engine/internal/ports"
	"github.com/echoai/visibility-engine/internal/storage"
)

// apiKeyEnvVars maps each provider to the environment variables searched
// for its credential, in order.
var apiKeyEnvVars = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"google":    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
}

func newRunCmd(verbose *bool) *cobra.Command {
	var (
		experimentPath string
		dbPath         string
		quotaLimit     int
		requestsPerSec float64
		callTimeout    time.Duration
		maxRetries     int
		breakerLimit   int
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute an experiment and print its visibility report",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(*verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			exp, err := application.LoadExperimentFromFile(experimentPath)
			if err != nil {
				return err
			}

			apiKey, err := resolveAPIKey(exp.Provider)
			if err != nil {
				return err
			}

			collector := middleware.NewPrometheusMetrics()

			client, err := llm.NewClient(exp.Provider, llm.ClientConfig{
				APIKey: apiKey,
				Model:  exp.Model,
				Middleware: []llm.Middleware{
					llm.MetricsMiddleware(exp.Provider, collector),
					llm.RateLimitMiddleware(rate.Limit(requestsPerSec), 1),
					llm.RetryMiddleware(maxRetries, 500*time.Millisecond, 8*time.Second),
					llm.CircuitBreakerMiddleware(breakerLimit, 30*time.Second),
					llm.TimeoutMiddleware(callTimeout),
				},
			})
			if err != nil {
				return err
			}

			extractor, err := extract.NewExtractor(extract.Config{
				TargetBrand:      exp.TargetBrand,
				CompetitorBrands: exp.CompetitorBrands,
			}, nil)
			if err != nil {
				return err
			}

			var store ports.RunStore
			if dbPath != "" {
				sqlStore, err := storage.NewSQLiteStore(dbPath)
				if err != nil {
					return err
				}
				defer sqlStore.Close()
				store = sqlStore
			}

			var quota ports.QuotaManager
			if quotaLimit > 0 {
				quota = middleware.NewMemoryQuotaManager(quotaLimit)
			}

			engine, err := application.NewEngine(application.EngineConfig{
				Client:      client,
				Extractor:   extractor,
				Similarity:  extract.NewSimilarityAnalyzer(),
				Quota:       quota,
				Store:       store,
				Progress:    middleware.NewProgressObserver(collector, logger),
				Metrics:     collector,
				Logger:      logger,
				CallTimeout: callTimeout,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := engine.Run(ctx, exp)
			if err != nil {
				return err
			}

			return printReport(cmd, report, asJSON)
		},
	}

	cmd.Flags().StringVarP(&experimentPath, "experiment", "e", "experiment.yaml", "path to the experiment YAML file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite file to persist the run (optional)")
	cmd.Flags().IntVar(&quotaLimit, "quota", 0, "iteration quota for this process, 0 disables metering")
	cmd.Flags().Float64Var(&requestsPerSec, "rps", 2, "provider request rate limit")
	cmd.Flags().DurationVar(&callTimeout, "call-timeout", 60*time.Second, "per-iteration deadline")
	cmd.Flags().IntVar(&maxRetries, "retries", 3, "retry attempts for transient provider errors")
	cmd.Flags().IntVar(&breakerLimit, "breaker-failures", 5, "consecutive provider failures before the circuit opens")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func resolveAPIKey(provider string) (string, error) {
	envVars, ok := apiKeyEnvVars[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider %q, supported: %v", provider, llm.SupportedProviders())
	}
	for _, name := range envVars {
		if key := os.Getenv(name); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no API key for provider %s: set %s", provider, envVars[0])
}

func printReport(cmd *cobra.Command, report *application.Report, asJSON bool) error {
	if asJSON {
		data, err := report.MarshalIndent()
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(report.Summary())

	run := report.Run
	if run.Partial {
		cmd.Printf("note: partial results from %d of %d planned iterations\n",
			run.SuccessfulIterations, run.TotalIterations)
	}
	if run.FailureReason != "" {
		cmd.Printf("failure: %s\n", run.FailureReason)
	}

	metrics := run.Metrics
	if metrics == nil {
		return nil
	}

	cmd.Printf("consistency score: %.2f\n", metrics.ConsistencyScore)
	if metrics.AveragePosition != nil {
		cmd.Printf("average position: %.2f\n", *metrics.AveragePosition)
	}
	if metrics.ShareOfVoice != nil {
		cmd.Println("share of voice:")
		printShares(cmd, metrics.ShareOfVoice)
	}
	if report.ResponseConsistency != nil {
		rc := report.ResponseConsistency
		cmd.Printf("response similarity: avg %.2f (min %.2f, max %.2f, sd %.2f over %d pairs)\n",
			rc.AvgSimilarity, rc.MinSimilarity, rc.MaxSimilarity, rc.StdDev, rc.Pairs)
	}
	return nil
}

func printShares(cmd *cobra.Command, shares map[string]float64) {
	brands := make([]string, 0, len(shares))
	for brand := range shares {
		brands = append(brands, brand)
	}
	sort.Slice(brands, func(i, j int) bool {
		if shares[brands[i]] != shares[brands[j]] {
			return shares[brands[i]] > shares[brands[j]]
		}
		return brands[i] < brands[j]
	})
	for i, brand := range brands {
		cmd.Printf("  %d. %-20s %5.1f%%\n", i+1, brand, shares[brand]*100)
	}
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			providers := llm.SupportedProviders()
			sort.Strings(providers)
			for _, p := range providers {
				cmd.Println(p)
			}
		},
	}
}
