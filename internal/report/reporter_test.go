package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"churn-engine/internal/dataset"
	"churn-engine/internal/engine"
	"churn-engine/internal/ml"
	"churn-engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults() *Results {
	return &Results{
		ModelID:       "m-1",
		Family:        ml.FamilyForest,
		ScoringSource: "test.csv",
		Records: []ml.ScoredRecord{
			{Row: 0, ID: "a", Probability: 0.05},
			{Row: 1, ID: "b", Probability: 0.92},
			{Row: 2, ID: "c", Probability: 0.45},
			{Row: 3, ID: "d", Probability: 1.0},
			{Row: 4, ID: "e", Probability: 0.45},
		},
		Drift: &ml.DriftReport{Alerts: []ml.DriftAlert{{FeatureName: "Total_Day_charge", Severity: "high"}}},
	}
}

func TestBand(t *testing.T) {
	tests := []struct {
		p    float64
		want string
	}{
		{0, "low"},
		{0.299, "low"},
		{0.3, "medium"},
		{0.69, "medium"},
		{0.7, "high"},
		{1, "high"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Band(tt.p), "p=%v", tt.p)
	}
}

func TestResults_Summarize(t *testing.T) {
	s := sampleResults().Summarize()

	assert.Equal(t, 5, s.Records)
	assert.InDelta(t, 0.574, s.MeanProbability, 1e-9)
	assert.Equal(t, 2, s.HighRisk)
	assert.Equal(t, 2, s.MediumRisk)
	assert.Equal(t, 1, s.LowRisk)
	assert.Equal(t, 1, s.DriftAlerts)

	empty := (&Results{}).Summarize()
	assert.Zero(t, empty.MeanProbability)
}

func TestResults_Distribution(t *testing.T) {
	buckets := sampleResults().Distribution()

	require.Len(t, buckets, 10)
	assert.Equal(t, 1, buckets[0].Count)
	assert.Equal(t, 2, buckets[4].Count)
	assert.Equal(t, 2, buckets[9].Count, "probability 1.0 falls in the last bucket")
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, 5, total)
	assert.InDelta(t, 0.4, buckets[4].Share, 1e-9)
}

func TestResults_Ranked(t *testing.T) {
	res := sampleResults()
	ranked := res.Ranked()

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"d", "b", "c", "e", "a"}, ids)
	assert.Equal(t, "a", res.Records[0].ID, "input order is preserved")
}

func TestReporter_GenerateReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	require.NoError(t, NewReporter(sampleResults(), dir).GenerateReport())

	for _, name := range []string{"scoring_summary.txt", "risk_ranking.csv", "score_distribution.csv", "scoring_report.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	f, err := os.Open(filepath.Join(dir, "risk_ranking.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"Rank", "Row", "Customer", "Probability", "Risk"}, rows[0])
	assert.Equal(t, []string{"1", "3", "d", "1.000000", "high"}, rows[1])

	data, err := os.ReadFile(filepath.Join(dir, "scoring_report.json"))
	require.NoError(t, err)
	var report struct {
		Summary Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 5, report.Summary.Records)

	summary, err := os.ReadFile(filepath.Join(dir, "scoring_summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Total_Day_charge [high]")
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	train := filepath.Join(dir, "train.csv")
	test := filepath.Join(dir, "test.csv")
	require.NoError(t, dataset.WriteFileAtomic(train, testutil.ChurnFrame(400, 0.15, 3)))
	require.NoError(t, dataset.WriteFileAtomic(test, testutil.ScoringFrame(60, 4)))

	cfg := engine.DefaultConfig()
	cfg.Train.Trees = 8
	cfg.Train.MaxDepth = 4
	cfg.Train.BackgroundSize = 10
	cfg.OutputPath = filepath.Join(dir, "working_data.csv")
	eng := engine.New(cfg, dataset.NewLoader(0))

	_, err := Collect(eng, nil)
	assert.ErrorIs(t, err, engine.ErrNotTrained)

	ctx := context.Background()
	require.NoError(t, eng.BuildModel(ctx, train))
	require.NoError(t, eng.SetTestingDataFrame(ctx, test))

	_, err = Collect(eng, nil)
	assert.ErrorIs(t, err, engine.ErrNotScored)

	require.NoError(t, eng.Predict(ctx))
	res, err := Collect(eng, nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 60)
	assert.Equal(t, train, res.ModelSource)
	assert.Equal(t, test, res.ScoringSource)
	assert.False(t, res.ScoredAt.IsZero())
}
