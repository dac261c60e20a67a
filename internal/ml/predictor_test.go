package ml

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"churn-engine/internal/common"
	"churn-engine/internal/schema"
	"churn-engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictor_ScorePreservesOrder(t *testing.T) {
	model, _ := trainChurn(t, FamilyForest, 500)
	scoring := testutil.ScoringFrame(777, 9)

	metrics := &MockMetrics{}
	records, err := NewPredictor(4, ExplainConfig{}, metrics).Score(context.Background(), scoring, model)
	require.NoError(t, err)
	require.Len(t, records, scoring.Len())

	for i, r := range records {
		require.Equal(t, i, r.Row)
		require.Equal(t, scoring.Value(i, "Phone_No"), r.ID)

		x, err := model.Preprocessor().TransformRow(scoring, i)
		require.NoError(t, err)
		require.Equal(t, model.PredictProba(x), r.Probability, "row %d", i)
		require.GreaterOrEqual(t, r.Probability, 0.0)
		require.LessOrEqual(t, r.Probability, 1.0)
	}

	assert.Equal(t, float64(scoring.Len()), metrics.scoredRecords)
	assert.Len(t, metrics.predictionScores, scoring.Len())
}

func TestPredictor_ScoreIndependentOfWorkers(t *testing.T) {
	model, _ := trainChurn(t, FamilyLogistic, 400)
	scoring := testutil.ScoringFrame(301, 5)

	one, err := NewPredictor(1, ExplainConfig{}, nil).Score(context.Background(), scoring, model)
	require.NoError(t, err)
	many, err := NewPredictor(7, ExplainConfig{}, nil).Score(context.Background(), scoring, model)
	require.NoError(t, err)

	assert.Equal(t, one, many)
}

func TestPredictor_ScoreSchemaMismatch(t *testing.T) {
	model, _ := trainChurn(t, FamilyForest, 300)
	scoring := testutil.WithoutColumn(testutil.ScoringFrame(50, 3), "Total_Day_charge")

	_, err := NewPredictor(2, ExplainConfig{}, nil).Score(context.Background(), scoring, model)

	var mismatch *schema.MismatchError
	require.True(t, errors.As(err, &mismatch), "got %v", err)
	assert.Equal(t, []string{"Total_Day_charge"}, mismatch.MissingColumns)
}

func TestPredictor_ScoreUnseenCategory(t *testing.T) {
	model, _ := trainChurn(t, FamilyForest, 300)
	scoring := testutil.WithValue(testutil.ScoringFrame(50, 3), 7, "State", "ZZ")

	records, err := NewPredictor(2, ExplainConfig{}, nil).Score(context.Background(), scoring, model)
	require.NoError(t, err)
	assert.Len(t, records, 50)
}

func TestPredictor_ScoreCancelled(t *testing.T) {
	model, _ := trainChurn(t, FamilyForest, 300)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPredictor(2, ExplainConfig{}, nil).Score(ctx, testutil.ScoringFrame(100, 3), model)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredictor_NilSafety(t *testing.T) {
	var p *Predictor
	_, err := p.Score(context.Background(), testutil.ScoringFrame(5, 1), nil)
	assert.Error(t, err)

	_, err = NewPredictor(1, ExplainConfig{}, nil).Explain(context.Background(), testutil.ScoringFrame(5, 1), nil, 0)
	assert.Error(t, err)
}

func TestAppendScores(t *testing.T) {
	scoring := testutil.ScoringFrame(3, 1)
	records := []ScoredRecord{
		{Row: 0, Probability: 0.25},
		{Row: 1, Probability: 1},
		{Row: 2, Probability: 0.123456789},
	}

	out, err := AppendScores(scoring, records)
	require.NoError(t, err)

	cols := out.Columns()
	assert.Equal(t, append(scoring.Columns(), common.ProbabilityColumn), cols)
	assert.Equal(t, "0.250000", out.Value(0, common.ProbabilityColumn))
	assert.Equal(t, "1.000000", out.Value(1, common.ProbabilityColumn))

	v, err := strconv.ParseFloat(out.Value(2, common.ProbabilityColumn), 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.123457, v, 1e-9)
	assert.Equal(t, scoring.Row(2), out.Row(2)[:len(scoring.Columns())], "original columns untouched")

	again, err := AppendScores(out, records)
	require.NoError(t, err)
	assert.Equal(t, cols, again.Columns(), "re-scoring replaces the probability column")

	_, err = AppendScores(scoring, records[:2])
	assert.Error(t, err)
}
