// Package report writes the results of a scoring run to disk for offline review.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"churn-engine/internal/engine"
	"churn-engine/internal/ml"

	"github.com/rs/zerolog/log"
)

// Risk band thresholds on the churn probability.
const (
	HighRiskThreshold   = 0.7
	MediumRiskThreshold = 0.3
	distributionBuckets = 10
)

// Results is a snapshot of one scored session.
type Results struct {
	ModelID       string            `json:"model_id"`
	Family        ml.Family         `json:"family"`
	ModelMetrics  ml.ModelMetrics   `json:"model_metrics"`
	ModelSource   string            `json:"model_source"`
	ScoringSource string            `json:"scoring_source"`
	ScoredAt      time.Time         `json:"scored_at"`
	Records       []ml.ScoredRecord `json:"records"`
	Drift         *ml.DriftReport   `json:"drift,omitempty"`
	Importance    []ml.FeatureStats `json:"importance,omitempty"`
}

// Collect snapshots the scored session of eng. importance may be nil.
func Collect(eng *engine.Engine, importance []ml.FeatureStats) (*Results, error) {
	model, err := eng.Model()
	if err != nil {
		return nil, err
	}
	records, err := eng.Scored()
	if err != nil {
		return nil, err
	}
	status := eng.Status()
	drift, _ := eng.Drift()

	res := &Results{
		ModelID:       model.ID(),
		Family:        model.Family(),
		ModelMetrics:  model.Metrics(),
		ModelSource:   status.ModelSource,
		ScoringSource: status.ScoringSource,
		Records:       records,
		Drift:         drift,
		Importance:    importance,
	}
	if status.ScoredAt != nil {
		res.ScoredAt = *status.ScoredAt
	}
	return res, nil
}

// Band classifies a churn probability.
func Band(p float64) string {
	switch {
	case p >= HighRiskThreshold:
		return "high"
	case p >= MediumRiskThreshold:
		return "medium"
	default:
		return "low"
	}
}

// Summary aggregates the score distribution of a run.
type Summary struct {
	Records         int     `json:"records"`
	MeanProbability float64 `json:"mean_probability"`
	HighRisk        int     `json:"high_risk"`
	MediumRisk      int     `json:"medium_risk"`
	LowRisk         int     `json:"low_risk"`
	DriftAlerts     int     `json:"drift_alerts"`
}

// Summarize computes the Summary of r.
func (r *Results) Summarize() Summary {
	s := Summary{Records: len(r.Records)}
	var sum float64
	for _, rec := range r.Records {
		sum += rec.Probability
		switch Band(rec.Probability) {
		case "high":
			s.HighRisk++
		case "medium":
			s.MediumRisk++
		default:
			s.LowRisk++
		}
	}
	if s.Records > 0 {
		s.MeanProbability = sum / float64(s.Records)
	}
	if r.Drift != nil {
		s.DriftAlerts = len(r.Drift.Alerts)
	}
	return s
}

// Bucket is one equal-width probability interval.
type Bucket struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// Distribution buckets the probabilities into ten equal-width intervals over [0, 1].
func (r *Results) Distribution() []Bucket {
	buckets := make([]Bucket, distributionBuckets)
	for i := range buckets {
		buckets[i].Lower = float64(i) / distributionBuckets
		buckets[i].Upper = float64(i+1) / distributionBuckets
	}
	for _, rec := range r.Records {
		i := int(rec.Probability * distributionBuckets)
		if i >= distributionBuckets {
			i = distributionBuckets - 1
		}
		if i < 0 {
			i = 0
		}
		buckets[i].Count++
	}
	if len(r.Records) > 0 {
		for i := range buckets {
			buckets[i].Share = float64(buckets[i].Count) / float64(len(r.Records))
		}
	}
	return buckets
}

// Ranked returns the records ordered by decreasing probability, ties by row.
func (r *Results) Ranked() []ml.ScoredRecord {
	out := make([]ml.ScoredRecord, len(r.Records))
	copy(out, r.Records)
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Probability != out[b].Probability {
			return out[a].Probability > out[b].Probability
		}
		return out[a].Row < out[b].Row
	})
	return out
}

// Reporter generates scoring reports
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a new reporter writing into the outputPath directory
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport generates all report formats
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateRiskRanking(); err != nil {
		return err
	}
	if err := r.generateDistribution(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

// generateSummary generates a human-readable summary
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "scoring_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	r.writeSummary(file)

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

func (r *Reporter) writeSummary(w io.Writer) {
	res := r.results
	s := res.Summarize()
	m := res.ModelMetrics

	fmt.Fprintf(w, "CHURN SCORING SUMMARY\n")
	fmt.Fprintf(w, "=====================\n\n")

	fmt.Fprintf(w, "Model: %s (%s)\n", res.ModelID, res.Family)
	fmt.Fprintf(w, "Training Source: %s\n", res.ModelSource)
	fmt.Fprintf(w, "Scoring Source: %s\n", res.ScoringSource)
	if !res.ScoredAt.IsZero() {
		fmt.Fprintf(w, "Scored At: %s\n", res.ScoredAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Fprintf(w, "\nMODEL METRICS (training data)\n")
	fmt.Fprintf(w, "-----------------------------\n")
	fmt.Fprintf(w, "AUC: %.4f\n", m.AUCScore)
	fmt.Fprintf(w, "Accuracy: %.4f\n", m.Accuracy)
	fmt.Fprintf(w, "Precision: %.4f  Recall: %.4f  F1: %.4f\n", m.Precision, m.Recall, m.F1Score)
	fmt.Fprintf(w, "Churn Rate: %.2f%% of %d samples\n", m.ChurnRate*100, m.TrainingSamples)

	fmt.Fprintf(w, "\nSCORES\n")
	fmt.Fprintf(w, "------\n")
	fmt.Fprintf(w, "Scored Records: %d\n", s.Records)
	fmt.Fprintf(w, "Mean Churn Probability: %.4f\n", s.MeanProbability)
	fmt.Fprintf(w, "High Risk (p >= %.1f): %d\n", HighRiskThreshold, s.HighRisk)
	fmt.Fprintf(w, "Medium Risk: %d\n", s.MediumRisk)
	fmt.Fprintf(w, "Low Risk (p < %.1f): %d\n", MediumRiskThreshold, s.LowRisk)

	if res.Drift != nil && len(res.Drift.Alerts) > 0 {
		fmt.Fprintf(w, "\nDRIFT ALERTS\n")
		fmt.Fprintf(w, "------------\n")
		for _, a := range res.Drift.Alerts {
			fmt.Fprintf(w, "%s [%s]: %s\n", a.FeatureName, a.Severity, a.Description)
		}
	}

	if len(res.Importance) > 0 {
		fmt.Fprintf(w, "\nFEATURE IMPORTANCE\n")
		fmt.Fprintf(w, "------------------\n")
		for _, f := range res.Importance {
			fmt.Fprintf(w, "%2d. %s: %.4f (mean %+.4f)\n", f.Rank, f.Name, f.ImportanceScore, f.MeanContribution)
		}
	}
}

// generateRiskRanking generates a CSV of customers ordered by churn probability
func (r *Reporter) generateRiskRanking() error {
	csvPath := filepath.Join(r.outputPath, "risk_ranking.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create risk ranking: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"Rank", "Row", "Customer", "Probability", "Risk"}); err != nil {
		return err
	}
	for i, rec := range r.results.Ranked() {
		record := []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", rec.Row),
			rec.ID,
			fmt.Sprintf("%.6f", rec.Probability),
			Band(rec.Probability),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write risk ranking: %w", err)
	}

	log.Info().Str("file", csvPath).Msg("Risk ranking generated")
	return nil
}

// generateDistribution generates the probability histogram as CSV
func (r *Reporter) generateDistribution() error {
	csvPath := filepath.Join(r.outputPath, "score_distribution.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create score distribution: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"Lower", "Upper", "Count", "Share"}); err != nil {
		return err
	}
	for _, b := range r.results.Distribution() {
		record := []string{
			fmt.Sprintf("%.1f", b.Lower),
			fmt.Sprintf("%.1f", b.Upper),
			fmt.Sprintf("%d", b.Count),
			fmt.Sprintf("%.4f", b.Share),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write score distribution: %w", err)
	}

	log.Info().Str("file", csvPath).Msg("Score distribution generated")
	return nil
}

// generateJSONReport generates a JSON report with all data
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "scoring_report.json")

	report := map[string]interface{}{
		"summary":      r.results.Summarize(),
		"distribution": r.results.Distribution(),
		"results":      r.results,
		"generated_at": time.Now().UTC(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// PrintSummary prints a summary to stdout
func (r *Reporter) PrintSummary() {
	fmt.Println()
	r.writeSummary(os.Stdout)
	fmt.Println("=====================")
}
