package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"churn-engine/internal/dataset"
	"churn-engine/internal/testutil"
)

func main() {
	var (
		outDir   = flag.String("out", "data", "Output directory")
		trainN   = flag.Int("train", 3333, "Number of training customers")
		testN    = flag.Int("test", 1000, "Number of scoring customers")
		churn    = flag.Float64("churn-rate", 0.145, "Share of training customers labelled as churned")
		seed     = flag.Int64("seed", 42, "Random seed")
		trainOut = flag.String("train-file", "churn_training.csv", "Training file name")
		testOut  = flag.String("test-file", "churn_scoring.csv", "Scoring file name")
	)
	flag.Parse()

	fmt.Printf("Generating churn data...\n")
	fmt.Printf("  Training customers: %d (churn rate %.3f)\n", *trainN, *churn)
	fmt.Printf("  Scoring customers: %d\n", *testN)
	fmt.Printf("  Output directory: %s\n", *outDir)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	train := testutil.ChurnFrame(*trainN, *churn, *seed)
	if err := dataset.WriteFileAtomic(filepath.Join(*outDir, *trainOut), train); err != nil {
		log.Fatalf("Failed to write training data: %v", err)
	}

	test := testutil.ScoringFrame(*testN, *seed+1)
	if err := dataset.WriteFileAtomic(filepath.Join(*outDir, *testOut), test); err != nil {
		log.Fatalf("Failed to write scoring data: %v", err)
	}

	fmt.Println("Churn data generated successfully!")
}
