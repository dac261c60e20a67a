package ml

import (
	"fmt"
	"math"
	"time"

	"churn-engine/internal/dataset"
	"churn-engine/internal/preprocess"
	"churn-engine/internal/schema"
)

// DriftDetectionMethod represents different methods for detecting drift
type DriftDetectionMethod string

const (
	PopulationStabilityIndex DriftDetectionMethod = "population_stability_index"
	UnknownCategoryRate      DriftDetectionMethod = "unknown_category_rate"
)

// psiFloor replaces empty bin shares so the index stays finite.
const psiFloor = 1e-4

// minDriftSamples is the smallest scoring population for which drift is evaluated.
const minDriftSamples = 30

// DriftAlert represents a drift detection alert
type DriftAlert struct {
	Timestamp      time.Time            `json:"timestamp"`
	FeatureName    string               `json:"feature_name"`
	Method         DriftDetectionMethod `json:"method"`
	DriftScore     float64              `json:"drift_score"`
	Threshold      float64              `json:"threshold"`
	Severity       string               `json:"severity"`
	Description    string               `json:"description"`
	Recommendation string               `json:"recommendation"`
}

// FeatureDrift is the drift score of one feature between training and scoring data.
type FeatureDrift struct {
	FeatureName       string               `json:"feature_name"`
	Method            DriftDetectionMethod `json:"method"`
	DriftScore        float64              `json:"drift_score"`
	UnknownCategories int                  `json:"unknown_categories,omitempty"`
}

// DriftReport compares a scoring population against the training distribution captured by
// the preprocessor. Drift never blocks scoring; the report is informational.
type DriftReport struct {
	Timestamp time.Time      `json:"timestamp"`
	Samples   int            `json:"samples"`
	Threshold float64        `json:"threshold"`
	Features  []FeatureDrift `json:"features"`
	Alerts    []DriftAlert   `json:"alerts"`
}

// DetectDrift scores every feature of frame: numeric features by PSI over the fit-time
// decile bins, categorical features by the share of values unseen at fit time. Features
// missing from frame are skipped. Populations smaller than minDriftSamples yield an empty
// report.
func DetectDrift(fitted *preprocess.Fitted, frame *dataset.Frame, threshold float64) (*DriftReport, error) {
	if fitted == nil {
		return nil, fmt.Errorf("no fitted preprocessor")
	}
	report := &DriftReport{Timestamp: time.Now().UTC(), Samples: frame.Len(), Threshold: threshold}
	if frame.Len() < minDriftSamples {
		return report, nil
	}

	for i := range fitted.Features {
		enc := &fitted.Features[i]
		values, err := frame.Column(enc.Name)
		if err != nil {
			continue
		}

		var fd FeatureDrift
		switch enc.Type {
		case schema.Numeric:
			fd = numericDrift(enc, values)
		case schema.Categorical:
			fd = categoricalDrift(enc, values)
		}
		report.Features = append(report.Features, fd)

		if alert := driftAlert(fd, threshold); alert != nil {
			alert.Timestamp = report.Timestamp
			report.Alerts = append(report.Alerts, *alert)
		}
	}
	return report, nil
}

func numericDrift(enc *preprocess.Encoding, values []string) FeatureDrift {
	current := make([]float64, len(enc.Baseline))
	for _, raw := range values {
		v, ok, err := schema.ParseNumeric(raw)
		if err != nil {
			continue
		}
		if !ok {
			v = enc.Median
		}
		current[enc.Bin(v)]++
	}
	normalize(current)

	return FeatureDrift{
		FeatureName: enc.Name,
		Method:      PopulationStabilityIndex,
		DriftScore:  populationStabilityIndex(enc.Baseline, current),
	}
}

func categoricalDrift(enc *preprocess.Encoding, values []string) FeatureDrift {
	unknown := 0
	for _, raw := range values {
		if enc.Slot(raw) == 0 {
			unknown++
		}
	}
	return FeatureDrift{
		FeatureName:       enc.Name,
		Method:            UnknownCategoryRate,
		DriftScore:        float64(unknown) / float64(len(values)),
		UnknownCategories: unknown,
	}
}

// populationStabilityIndex computes sum((cur-base)*ln(cur/base)) over matching bins.
func populationStabilityIndex(baseline, current []float64) float64 {
	psi := 0.0
	for i := range baseline {
		b := math.Max(baseline[i], psiFloor)
		c := math.Max(current[i], psiFloor)
		psi += (c - b) * math.Log(c/b)
	}
	return psi
}

func normalize(counts []float64) {
	var total float64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return
	}
	for i := range counts {
		counts[i] /= total
	}
}

func driftAlert(fd FeatureDrift, threshold float64) *DriftAlert {
	if fd.DriftScore <= threshold {
		return nil
	}

	severity := "medium"
	if fd.DriftScore > threshold*2 {
		severity = "high"
	}
	if fd.DriftScore > threshold*3 {
		severity = "critical"
	}

	description := "Population distribution shift detected using PSI"
	if fd.Method == UnknownCategoryRate {
		description = fmt.Sprintf("%d values were not seen during training and are encoded as unknown", fd.UnknownCategories)
	}

	return &DriftAlert{
		FeatureName:    fd.FeatureName,
		Method:         fd.Method,
		DriftScore:     fd.DriftScore,
		Threshold:      threshold,
		Severity:       severity,
		Description:    description,
		Recommendation: getRecommendation(severity, fd.FeatureName),
	}
}

func getRecommendation(severity, featureName string) string {
	switch severity {
	case "critical":
		return fmt.Sprintf("Retrain the model: %s no longer resembles the training data", featureName)
	case "high":
		return fmt.Sprintf("Review recent changes to %s and plan a retrain", featureName)
	default:
		return fmt.Sprintf("Monitor %s on the next scoring batch", featureName)
	}
}
