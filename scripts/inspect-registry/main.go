package main

import (
	"flag"
	"fmt"
	"log"

	"churn-engine/internal/ml"
	"churn-engine/internal/storage"
)

func main() {
	var (
		dataPath = flag.String("data", "./data", "Data directory path")
		runLimit = flag.Int("runs", 10, "Number of recent scoring runs to show")
	)
	flag.Parse()

	fmt.Printf("Inspecting model registry in: %s\n", *dataPath)

	// Open storage
	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	versions, err := ml.NewModelManager(store).ListVersions()
	if err != nil {
		log.Fatalf("Failed to list model versions: %v", err)
	}

	fmt.Printf("\nModel versions (%d):\n", len(versions))
	for _, v := range versions {
		marker := " "
		if v.IsActive {
			marker = "*"
		}
		fmt.Printf("%s %s  %-8s  AUC %.4f  %d samples  %s  (%s)\n",
			marker, v.ID, v.Family, v.Metrics.AUCScore, v.Metrics.TrainingSamples,
			v.CreatedAt.Format("2006-01-02 15:04:05"), v.Source)
	}

	runs, err := store.ListRuns(*runLimit)
	if err != nil {
		log.Fatalf("Failed to list scoring runs: %v", err)
	}

	fmt.Printf("\nRecent scoring runs (%d):\n", len(runs))
	for _, r := range runs {
		fmt.Printf("%s  model %s  %d records  mean %.4f  %v  -> %s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.ModelID, r.Records,
			r.MeanProbability, r.Duration, r.OutputPath)
	}
}
