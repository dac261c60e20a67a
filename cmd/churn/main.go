package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"churn-engine/internal/cfg"
	"churn-engine/internal/dataset"
	"churn-engine/internal/engine"
	"churn-engine/internal/ml"
	"churn-engine/internal/report"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		trainPath  = flag.String("train", "", "Training data locator (path or URL)")
		testPath   = flag.String("test", "", "Scoring data locator (path or URL)")
		outputPath = flag.String("output", "", "Output path for the scored dataset (overrides config)")
		family     = flag.String("family", "", "Model family: forest or logistic (overrides config)")
		explainRow = flag.Int("explain", -1, "Row index to explain after scoring")
		customer   = flag.String("customer", "", "Customer ID to explain after scoring")
		importance = flag.Int("importance", 0, "Rank features over this many scored rows")
		top        = flag.Int("top", 10, "Number of contributions to print")
		asJSON     = flag.Bool("json", false, "Print explanations as JSON")
		reportDir  = flag.String("report", "", "Directory for summary, ranking and distribution reports")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Override config with command line arguments
	if *trainPath != "" {
		config.TrainingSource = *trainPath
	}
	if *testPath != "" {
		config.TestingSource = *testPath
	}
	if *outputPath != "" {
		config.OutputPath = *outputPath
	}
	if *family != "" {
		config.ModelFamily = strings.ToLower(*family)
		if !ml.Family(config.ModelFamily).Valid() {
			log.Fatal().Str("family", *family).Msg("Unknown model family")
		}
	}
	if config.TrainingSource == "" || config.TestingSource == "" {
		fmt.Fprintln(os.Stderr, "both -train and -test (or TRAINING_SOURCE and TESTING_SOURCE) are required")
		flag.Usage()
		os.Exit(2)
	}

	fmt.Println("=== Churn Scoring Configuration ===")
	fmt.Printf("Training Source: %s\n", config.TrainingSource)
	fmt.Printf("Scoring Source: %s\n", config.TestingSource)
	fmt.Printf("Output Path: %s\n", config.OutputPath)
	fmt.Printf("Model Family: %s\n", config.ModelFamily)
	fmt.Println("===================================")

	eng := engine.New(engine.Config{
		Schema:           config.SchemaSpec(),
		Train:            config.TrainConfig(),
		Explain:          config.ExplainConfig(),
		Workers:          config.ScoringWorkers,
		OutputPath:       config.OutputPath,
		DriftThreshold:   config.DriftThreshold,
		ImportanceSample: config.ImportanceSample,
	}, dataset.NewLoader(config.LoadTimeout))

	ctx := context.Background()
	trainCtx, cancel := context.WithTimeout(ctx, config.TrainTimeout)
	err = eng.BuildModel(trainCtx, config.TrainingSource)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}
	if err := eng.SetTestingDataFrame(ctx, config.TestingSource); err != nil {
		log.Fatal().Err(err).Msg("Failed to load scoring data")
	}
	if err := eng.Predict(ctx); err != nil {
		log.Fatal().Err(err).Msg("Scoring failed")
	}

	var stats []ml.FeatureStats
	if *importance > 0 {
		stats, err = eng.FeatureImportance(ctx, *importance)
		if err != nil {
			log.Fatal().Err(err).Msg("Feature importance failed")
		}
	}

	results, err := report.Collect(eng, stats)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to collect results")
	}
	reporter := report.NewReporter(results, *reportDir)
	if *reportDir != "" {
		if err := reporter.GenerateReport(); err != nil {
			log.Error().Err(err).Msg("Failed to generate reports")
		}
	}
	reporter.PrintSummary()

	if *customer != "" {
		artifact, err := eng.ExplainCustomer(ctx, *customer)
		if err != nil {
			log.Fatal().Err(err).Msg("Explanation failed")
		}
		printExplanation(artifact, *top, *asJSON)
	} else if *explainRow >= 0 {
		artifact, err := eng.GetShapExplanation(ctx, *explainRow)
		if err != nil {
			log.Fatal().Err(err).Msg("Explanation failed")
		}
		printExplanation(artifact, *top, *asJSON)
	}

	log.Info().
		Str("output", config.OutputPath).
		Msg("Scoring completed successfully")
}

func printExplanation(artifact *engine.Artifact, top int, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(artifact); err != nil {
			log.Error().Err(err).Msg("Failed to encode explanation")
		}
		return
	}

	exp := artifact.Explanation
	fmt.Println()
	fmt.Printf("=== Explanation: row %d", exp.Row)
	if exp.CustomerID != "" {
		fmt.Printf(" (customer %s)", exp.CustomerID)
	}
	fmt.Println(" ===")
	fmt.Printf("Method: %s  Base: %.4f  Prediction: %.4f\n", exp.Method, exp.BaseValue, exp.Prediction)
	for i, c := range exp.Ranked() {
		if i >= top {
			break
		}
		fmt.Printf("  %-24s %-12s %+.4f\n", c.Feature, c.Value, c.Contribution)
	}
	if exp.Unreliable {
		fmt.Printf("  (residual %.4f exceeds tolerance)\n", exp.Residual)
	}
}
