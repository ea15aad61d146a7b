package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"loan-risk/internal/batch"
	"loan-risk/internal/bootstrap"
	"loan-risk/internal/cfg"
	"loan-risk/internal/storage"

	"github.com/rs/zerolog/log"
)

func main() {
	var (
		inputPath  = flag.String("input", "", "Applications file (CSV with header, or JSON lines)")
		dataFormat = flag.String("format", "auto", "Input format: auto, csv, jsonl")
		outputPath = flag.String("output", "", "Output directory for reports (default: batch_<timestamp>)")
		logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
		persist    = flag.Bool("persist", false, "Append scored applications to the configured prediction history")
		workers    = flag.Int("workers", 0, "Concurrent scoring workers (default: number of CPUs)")
	)
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: batchscore -input applications.csv [-format csv|jsonl] [-output dir] [-persist]")
		os.Exit(2)
	}

	// Batch runs never serve operators, so AUTH_USERS is not required.
	config, err := cfg.LoadOffline()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	level := config.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	bootstrap.SetupLogging(level, config.LogFormat)

	if *outputPath == "" {
		*outputPath = fmt.Sprintf("batch_%s", time.Now().Format("20060102_150405"))
	}

	fmt.Println("=== Batch Scoring Configuration ===")
	fmt.Printf("Input: %s (%s)\n", *inputPath, *dataFormat)
	fmt.Printf("Schema: %s\n", schemaName(config))
	fmt.Printf("Model: %s (%s)\n", config.ModelDir, config.ModelKind)
	fmt.Printf("Output Directory: %s\n", *outputPath)
	if *persist {
		fmt.Printf("History: %s %s\n", config.HistoryBackend, config.HistoryPath)
	}
	fmt.Println("===================================")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	schema, err := bootstrap.Schema(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load schema")
	}
	codec, engine, err := bootstrap.Model(ctx, config, schema, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load model")
	}

	var sink storage.History
	if *persist {
		sink, err = bootstrap.History(ctx, config, schema)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open prediction history")
		}
		defer sink.Close()
	}

	loader := batch.NewLoader()
	if err := loader.LoadFile(*inputPath, *dataFormat); err != nil {
		log.Fatal().Err(err).Msg("Failed to load applications")
	}
	log.Info().Int("applications", loader.Count()).Msg("Applications loaded")

	runner, err := batch.NewEngine(batch.Config{
		Codec:   codec,
		Model:   engine,
		Fields:  schema.Fields(),
		Sink:    sink,
		Profile: schema.Name,
		Workers: *workers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create batch engine")
	}

	fmt.Println("Scoring...")
	results, err := runner.Run(ctx, loader)
	if err != nil {
		log.Fatal().Err(err).Msg("Batch run failed")
	}

	reporter := batch.NewReporter(results, *outputPath)
	if err := reporter.GenerateReport(); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate report")
	}
	reporter.PrintSummary(os.Stdout)

	abs, _ := filepath.Abs(*outputPath)
	fmt.Printf("\nReports written to %s\n", abs)

	if results.Failed > 0 {
		os.Exit(1)
	}
}

func schemaName(c cfg.Settings) string {
	if c.SchemaFile != "" {
		return c.SchemaFile
	}
	return c.SchemaProfile
}
