package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/hypetrack/internal/cache"
	"github.com/rewired-gh/hypetrack/internal/config"
	"github.com/rewired-gh/hypetrack/internal/export"
	"github.com/rewired-gh/hypetrack/internal/logger"
	"github.com/rewired-gh/hypetrack/internal/models"
	"github.com/rewired-gh/hypetrack/internal/pipeline"
	"github.com/rewired-gh/hypetrack/internal/telegram"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	term       = flag.String("term", "", "Term to track (required)")
	start      = flag.String("start", "", "Window start, YYYY or YYYY-MM-DD (required)")
	end        = flag.String("end", "", "Window end (exclusive), YYYY or YYYY-MM-DD (required)")
	bucket     = flag.String("bucket", "yearly", "Bucket width: yearly, quarterly, monthly, or days:N")
	refresh    = flag.Bool("refresh", false, "Bypass cached source data and refetch")
	outDir     = flag.String("out", "", "Output directory (overrides config)")
)

func main() {
	flag.Parse()

	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.Default()
	}
	if *outDir != "" {
		cfg.Export.OutDir = *outDir
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if *configPath != "" {
		logger.Info("Configuration loaded from %s", *configPath)
	}

	q, err := parseQuery(*term, *start, *end, *bucket)
	if err != nil {
		logger.Fatal("Invalid query: %v", err)
	}

	// Initialize the series cache
	store, err := cache.Open(cfg.Cache.DBPath)
	if err != nil {
		logger.Fatal("Failed to open cache: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close cache: %v", err)
		}
	}()

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cancelling run...")
		cancel()
	}()

	p := pipeline.New(cfg, store)
	result, err := p.Run(ctx, q, *refresh)
	if err != nil {
		logger.Fatal("Run failed: %v", err)
	}
	for id, srcErr := range result.Errors {
		logger.Warn("Source %s produced no data: %v", id, srcErr)
	}

	// Write CSV artifacts
	writer := &export.Writer{OutDir: cfg.Export.OutDir}
	path, err := writer.WriteHype(q, result.Hype)
	if err != nil {
		logger.Fatal("Failed to write hype index: %v", err)
	}
	logger.Info("Wrote %s", path)
	for id, vals := range result.Bucketed {
		path, err := writer.WriteSourceData(q, id, vals)
		if err != nil {
			logger.Fatal("Failed to write %s data: %v", id, err)
		}
		logger.Info("Wrote %s", path)
	}

	// Best-effort digest; the artifacts are already on disk.
	if telegramClient != nil {
		if err := telegramClient.SendDigest(q, result.Hype); err != nil {
			logger.Error("Failed to send Telegram digest: %v", err)
		}
	}

	peak := result.Hype.Points[result.Hype.PeakBucket]
	logger.Info("Peak hype for %q: %s (score %.2f)", q.Term, peak.Span.Label(q.Bucket), peak.Composite)
}

// parseQuery assembles and validates the query from command-line flags.
func parseQuery(term, start, end, bucket string) (models.Query, error) {
	if term == "" {
		return models.Query{}, fmt.Errorf("-term is required")
	}
	startT, err := parseYearOrDate(start)
	if err != nil {
		return models.Query{}, fmt.Errorf("-start: %w", err)
	}
	endT, err := parseYearOrDate(end)
	if err != nil {
		return models.Query{}, fmt.Errorf("-end: %w", err)
	}
	width, err := models.ParseBucketWidth(bucket)
	if err != nil {
		return models.Query{}, fmt.Errorf("-bucket: %w", err)
	}

	q := models.Query{Term: term, Start: startT, End: endT, Bucket: width}
	if err := q.Validate(); err != nil {
		return models.Query{}, err
	}
	return q, nil
}

// parseYearOrDate accepts a bare year ("2019", meaning January 1st of that
// year) or a full date ("2019-06-01"). All times are UTC midnight.
func parseYearOrDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("value is required")
	}
	if t, err := time.Parse("2006", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY or YYYY-MM-DD, got %q", s)
	}
	return t.UTC(), nil
}
