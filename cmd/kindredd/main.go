// kindredd is the relationship-pulse daemon: it ingests privacy-scrubbed
// interaction events from a spool directory, maintains decaying relationship
// scores, stores summaries in the vector memory, and logs planned follow-up
// actions.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/bubbleone/kindred/config"
	"github.com/bubbleone/kindred/embed"
	"github.com/bubbleone/kindred/flow"
	kindredlogger "github.com/bubbleone/kindred/logger"
	"github.com/bubbleone/kindred/migrations"
	"github.com/bubbleone/kindred/planner"
	"github.com/bubbleone/kindred/ragstore"
	"github.com/bubbleone/kindred/runtime"
	"github.com/bubbleone/kindred/vectorindex"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "kindred.yaml", "Path to YAML config file")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *pretty {
		cfg.Log.Pretty = true
	}

	logger, err := kindredlogger.Init(cfg.Log.File, cfg.Log.Pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // process is exiting

	if err := migrations.Run(db, logger); err != nil {
		return err
	}

	store, err := ragstore.NewMemoryStore(db, cfg.DataDir, vectorindex.Backend(cfg.Index.Backend), logger)
	if err != nil {
		return fmt.Errorf("failed to open vector memory: %w", err)
	}

	embedder := buildEmbedder(cfg, logger)
	pl := buildPlanner(cfg, logger)

	fl := flow.NewFlow(store, embedder, pl, logger)

	source, err := runtime.NewSpoolSource(cfg.DataDir, store, embedder, logger)
	if err != nil {
		return err
	}
	sink := runtime.NewActionLog(filepath.Join(cfg.DataDir, "actions.jsonl"), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sweep.Disabled {
		logger.Info().Msg("Sweep disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	sweeper, err := runtime.NewSweeper(source, sink, fl, cfg.Sweep.Schedule, logger)
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}

	logger.Info().
		Str("dataDir", cfg.DataDir).
		Str("schedule", cfg.Sweep.Schedule).
		Int("storedVectors", store.Len()).
		Msg("kindredd started")

	sweeper.Start(ctx)
	return nil
}

// buildEmbedder assembles the failover chain per config. The hash embedder
// is always the final link so ingestion never stalls on a provider outage.
func buildEmbedder(cfg *config.Config, logger zerolog.Logger) embed.Embedder {
	var providers []embed.Embedder
	for _, name := range cfg.Embedding.Providers {
		switch name {
		case "openai":
			if cfg.Embedding.OpenAIAPIKey == "" {
				continue
			}
			e, err := embed.NewOpenAIEmbedder(cfg.Embedding.OpenAIAPIKey, cfg.Embedding.OpenAIBaseURL, cfg.Embedding.OpenAIModel)
			if err != nil {
				logger.Warn().Err(err).Msg("skipping openai embedder")
				continue
			}
			providers = append(providers, e)
		case "ollama":
			e, err := embed.NewOllamaEmbedder(cfg.Embedding.OllamaModel)
			if err != nil {
				logger.Warn().Err(err).Msg("skipping ollama embedder")
				continue
			}
			providers = append(providers, e)
		default:
			logger.Warn().Str("provider", name).Msg("unknown embedding provider")
		}
	}
	providers = append(providers, embed.HashEmbedder{})
	return embed.NewChain(logger, providers...)
}

// buildPlanner returns nil when no usable provider is configured; the flow
// then plans every contact with the rule-based fallback.
func buildPlanner(cfg *config.Config, logger zerolog.Logger) planner.Planner {
	switch cfg.Planner.Provider {
	case "openai":
		if cfg.Planner.OpenAIAPIKey == "" {
			logger.Info().Msg("no openai api key, planner falls back to rules")
			return nil
		}
		p, err := planner.NewOpenAIPlanner(cfg.Planner.OpenAIAPIKey, cfg.Planner.OpenAIBaseURL, cfg.Planner.OpenAIModel, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("openai planner unavailable, falling back to rules")
			return nil
		}
		return p
	case "anthropic":
		if cfg.Planner.AnthropicAPIKey == "" {
			logger.Info().Msg("no anthropic api key, planner falls back to rules")
			return nil
		}
		p, err := planner.NewAnthropicPlanner(cfg.Planner.AnthropicAPIKey, cfg.Planner.AnthropicModel, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("anthropic planner unavailable, falling back to rules")
			return nil
		}
		return p
	case "ollama":
		p, err := planner.NewOllamaPlanner(cfg.Planner.OllamaModel, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("ollama planner unavailable, falling back to rules")
			return nil
		}
		return p
	case "none", "":
		return nil
	default:
		logger.Warn().Str("provider", cfg.Planner.Provider).Msg("unknown planner provider, falling back to rules")
		return nil
	}
}
