package ml

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"churn-engine/internal/dataset"

	"github.com/rs/zerolog/log"
)

// FeatureStats summarises the attributions of one feature over a sample of records
type FeatureStats struct {
	Name             string  `json:"name"`
	Rank             int     `json:"rank"`
	ImportanceScore  float64 `json:"importance_score"`
	MeanContribution float64 `json:"mean_contribution"`
	MinContribution  float64 `json:"min_contribution"`
	MaxContribution  float64 `json:"max_contribution"`
	PositiveShare    float64 `json:"positive_share"`
	SampleCount      int     `json:"sample_count"`
}

// FeatureImportance explains up to sample evenly spaced rows of frame and ranks the features
// by mean absolute contribution. sample <= 0 explains every row.
func (p *Predictor) FeatureImportance(ctx context.Context, frame *dataset.Frame, model *TrainedModel, sample int) ([]FeatureStats, error) {
	if p == nil || model == nil {
		return nil, fmt.Errorf("predictor or model not initialized")
	}
	n := frame.Len()
	if n == 0 {
		return nil, fmt.Errorf("no records to explain")
	}
	if sample <= 0 || sample > n {
		sample = n
	}

	rows := make([]int, sample)
	for i := range rows {
		rows[i] = i * n / sample
	}

	explanations := make([]*Explanation, len(rows))
	jobs := make(chan int)
	errs := make(chan error, p.workers)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				exp, err := p.Explain(ctx, frame, model, rows[i])
				if err != nil {
					errs <- err
					return
				}
				explanations[i] = exp
			}
		}()
	}

	var err error
feed:
	for i := range rows {
		select {
		case jobs <- i:
		case err = <-errs:
			break feed
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	if err == nil {
		err = <-errs
	}
	if err != nil {
		return nil, fmt.Errorf("feature importance: %w", err)
	}

	stats := aggregateImportance(explanations)
	log.Info().
		Str("model_id", model.id).
		Int("sample", len(rows)).
		Str("top_feature", stats[0].Name).
		Float64("top_score", stats[0].ImportanceScore).
		Msg("Calculated feature importance")
	return stats, nil
}

func aggregateImportance(explanations []*Explanation) []FeatureStats {
	nFeatures := len(explanations[0].Contributions)
	stats := make([]FeatureStats, nFeatures)
	for g := range stats {
		stats[g] = FeatureStats{
			Name:            explanations[0].Contributions[g].Feature,
			MinContribution: math.Inf(1),
			MaxContribution: math.Inf(-1),
		}
	}

	for _, exp := range explanations {
		for g, c := range exp.Contributions {
			s := &stats[g]
			s.SampleCount++
			s.ImportanceScore += math.Abs(c.Contribution)
			s.MeanContribution += c.Contribution
			s.MinContribution = math.Min(s.MinContribution, c.Contribution)
			s.MaxContribution = math.Max(s.MaxContribution, c.Contribution)
			if c.Contribution > 0 {
				s.PositiveShare++
			}
		}
	}

	for g := range stats {
		count := float64(stats[g].SampleCount)
		stats[g].ImportanceScore /= count
		stats[g].MeanContribution /= count
		stats[g].PositiveShare /= count
	}

	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].ImportanceScore != stats[j].ImportanceScore {
			return stats[i].ImportanceScore > stats[j].ImportanceScore
		}
		return stats[i].Name < stats[j].Name
	})
	for i := range stats {
		stats[i].Rank = i + 1
	}
	return stats
}
