package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/medixscan/anonymizer/internal/audit"
	"github.com/medixscan/anonymizer/internal/config"
	"github.com/medixscan/anonymizer/internal/etl"
	"github.com/medixscan/anonymizer/internal/logger"
	"github.com/medixscan/anonymizer/internal/policy"
	"github.com/medixscan/anonymizer/internal/privacy"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		inputFile    = flag.String("input", "", "Input file (CSV with a text column, JSON lines, or Parquet)")
		outputFile   = flag.String("output", "", "Output JSON lines file (default stdout)")
		sensitivity  = flag.String("sensitivity", "", "Detection sensitivity: high, medium or low (default from config)")
		strategy     = flag.String("strategy", "", "Anonymization strategy (default from config)")
		workers      = flag.Int("workers", 0, "Number of worker goroutines (default from config)")
		batchSize    = flag.Int("batch-size", 500, "Records per batch")
		validateOnly = flag.Bool("validate-only", false, "Only read and count records, don't anonymize")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input notes.csv -output notes.anonymized.jsonl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input notes.parquet -strategy masking -workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input notes.jsonl -validate-only\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr when results stream to stdout
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Stderr: *outputFile == "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *workers > 0 {
		cfg.Engine.BatchWorkers = *workers
	}
	if *sensitivity == "" {
		*sensitivity = cfg.Engine.DefaultSensitivity
	}
	if *strategy == "" {
		*strategy = cfg.Policy.DefaultStrategy
	}

	level, ok := privacy.ParseSensitivity(*sensitivity)
	if !ok {
		log.Warn("Unknown sensitivity, using medium", zap.String("sensitivity", *sensitivity))
	}
	chosen, ok := policy.ParseStrategy(*strategy)
	if !ok {
		log.Fatal("Unknown anonymization strategy", zap.String("strategy", *strategy))
	}

	log.Info("Starting batch anonymization",
		zap.String("input", *inputFile),
		zap.String("output", *outputFile),
		zap.String("sensitivity", string(level)),
		zap.String("strategy", string(chosen)),
		zap.Int("workers", cfg.Engine.BatchWorkers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling batch...")
		cancel()
	}()

	catalog := policy.DefaultCatalog()
	if cfg.Policy.CatalogFile != "" {
		catalog, err = policy.LoadCatalogFile(cfg.Policy.CatalogFile)
		if err != nil {
			log.Fatal("Failed to load rule catalog", zap.String("file", cfg.Policy.CatalogFile), zap.Error(err))
		}
	}
	engine := privacy.NewFromConfig(cfg.Engine, catalog, log.WithComponent("privacy"))

	var recorder etl.AuditRecorder
	if cfg.Audit.Enabled && !*validateOnly {
		store, err := audit.NewStore(audit.Config{
			DatabaseURL:     cfg.Audit.DatabaseURL,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		}, log.WithComponent("audit").Logger)
		if err != nil {
			log.Fatal("Failed to initialize audit store", zap.Error(err))
		}
		defer store.Close()
		recorder = store
	}

	var out io.Writer = os.Stdout
	if *outputFile != "" && !*validateOnly {
		file, err := os.Create(*outputFile)
		if err != nil {
			log.Fatal("Failed to create output file", zap.String("file", *outputFile), zap.Error(err))
		}
		defer file.Close()
		out = file
	}
	writer := bufio.NewWriter(out)

	opts := privacy.DefaultAnonymizeOptions()
	opts.Sensitivity = level
	opts.Strategy = chosen

	pipeline := etl.NewPipeline(engine, recorder, opts, etl.Config{
		BatchSize:    *batchSize,
		ValidateOnly: *validateOnly,
	}, log.WithComponent("etl").Logger)

	result, err := pipeline.ProcessFile(ctx, *inputFile, writer)
	if flushErr := writer.Flush(); flushErr != nil {
		log.Error("Failed to flush output", zap.Error(flushErr))
	}
	if err != nil {
		log.Fatal("Batch anonymization failed",
			zap.Int64("records_processed", result.TotalRecords),
			zap.Error(err))
	}

	log.Info("Batch summary",
		zap.String("request_id", result.RequestID),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("successful", result.ProcessedOK),
		zap.Int64("failed", result.ProcessedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("total_detections", result.TotalDetections),
		zap.Float64("average_detections", averageDetections(result)),
		zap.Duration("duration", result.Duration))

	if len(result.Errors) > 0 {
		log.Warn("Batch completed with errors", zap.Strings("errors", result.Errors))
	}
}

func averageDetections(result *etl.ProcessingResult) float64 {
	if result.ProcessedOK == 0 {
		return 0
	}
	return float64(result.TotalDetections) / float64(result.ProcessedOK)
}
