package ml

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"churn-engine/internal/dataset"
	"churn-engine/internal/schema"
	"churn-engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func churnSchema(t *testing.T, frame *dataset.Frame) *schema.Schema {
	t.Helper()
	s, err := schema.Spec{IDColumn: "Phone_No", TargetColumn: "Churn?"}.Validate(frame, schema.RoleTraining)
	require.NoError(t, err)
	return s
}

func fastConfig(family Family) TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.Family = family
	cfg.Trees = 15
	cfg.MaxDepth = 6
	cfg.BackgroundSize = 25
	cfg.Epochs = 200
	return cfg
}

func trainChurn(t *testing.T, family Family, n int) (*TrainedModel, *dataset.Frame) {
	t.Helper()
	frame := testutil.ChurnFrame(n, 0.14, 42)
	model, err := Train(context.Background(), frame, churnSchema(t, frame), fastConfig(family))
	require.NoError(t, err)
	return model, frame
}

func TestTrain_Families(t *testing.T) {
	for _, family := range []Family{FamilyForest, FamilyLogistic} {
		t.Run(string(family), func(t *testing.T) {
			model, frame := trainChurn(t, family, 800)

			assert.Equal(t, family, model.Family())
			assert.NotEmpty(t, model.ID())
			assert.Equal(t, int64(42), model.Seed())
			assert.Equal(t, 25, model.BackgroundSize())
			assert.True(t, model.Schema().Equal(churnSchema(t, frame)), "schema is frozen on the model")

			X, err := model.Preprocessor().Transform(frame)
			require.NoError(t, err)
			for i, x := range X {
				p := model.PredictProba(x)
				require.GreaterOrEqual(t, p, 0.0, "row %d", i)
				require.LessOrEqual(t, p, 1.0, "row %d", i)
			}

			metrics := model.Metrics()
			assert.Equal(t, 800, metrics.TrainingSamples)
			assert.Equal(t, 112, metrics.Positives)
			assert.InDelta(t, 0.14, metrics.ChurnRate, 1e-9)
			assert.Greater(t, metrics.AUCScore, 0.75)
			assert.Greater(t, model.BaseValue(), 0.0)
			assert.Less(t, model.BaseValue(), 0.5)
		})
	}
}

func TestTrain_Deterministic(t *testing.T) {
	for _, family := range []Family{FamilyForest, FamilyLogistic} {
		t.Run(string(family), func(t *testing.T) {
			a, _ := trainChurn(t, family, 400)
			b, _ := trainChurn(t, family, 400)

			assert.NotEqual(t, a.ID(), b.ID(), "every run is a new lineage")
			assert.Equal(t, a.classifier, b.classifier)
			assert.Equal(t, a.background, b.background)
			assert.Equal(t, a.BaseValue(), b.BaseValue())
		})
	}
}

func TestTrain_InsufficientData(t *testing.T) {
	frame := testutil.ChurnFrame(200, 0.02, 1)

	_, err := Train(context.Background(), frame, churnSchema(t, frame), fastConfig(FamilyForest))

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, 4, insufficient.Positives)
	assert.Equal(t, 196, insufficient.Negatives)
	assert.Contains(t, err.Error(), "4 positive (need 20)")
}

func TestTrain_UnknownFamily(t *testing.T) {
	frame := testutil.ChurnFrame(100, 0.3, 1)
	cfg := fastConfig("boosting")

	_, err := Train(context.Background(), frame, churnSchema(t, frame), cfg)
	assert.ErrorContains(t, err, "unknown model family")
}

func TestTrain_Cancelled(t *testing.T) {
	frame := testutil.ChurnFrame(300, 0.2, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, family := range []Family{FamilyForest, FamilyLogistic} {
		_, err := Train(ctx, frame, churnSchema(t, frame), fastConfig(family))
		assert.ErrorIs(t, err, context.Canceled, string(family))
	}
}

func TestTrainedModel_JSONRoundTrip(t *testing.T) {
	for _, family := range []Family{FamilyForest, FamilyLogistic} {
		t.Run(string(family), func(t *testing.T) {
			model, frame := trainChurn(t, family, 300)

			data, err := json.Marshal(model)
			require.NoError(t, err)

			restored, err := DecodeModel(data)
			require.NoError(t, err)

			assert.Equal(t, model.ID(), restored.ID())
			assert.Equal(t, model.Family(), restored.Family())
			assert.True(t, model.Schema().Equal(restored.Schema()))
			assert.Equal(t, model.BaseValue(), restored.BaseValue())

			want, err := model.Preprocessor().Transform(frame)
			require.NoError(t, err)
			got, err := restored.Preprocessor().Transform(frame)
			require.NoError(t, err)
			for i := range want {
				require.Equal(t, model.PredictProba(want[i]), restored.PredictProba(got[i]), "row %d", i)
			}
		})
	}
}

func TestDecodeModel_Invalid(t *testing.T) {
	_, err := DecodeModel([]byte("{"))
	assert.Error(t, err)

	_, err = DecodeModel([]byte(`{"id":"x"}`))
	assert.ErrorContains(t, err, "incomplete snapshot")
}

func TestSampleBackground(t *testing.T) {
	X := make([][]float64, 10)
	for i := range X {
		X[i] = []float64{float64(i)}
	}

	assert.Len(t, sampleBackground(X, 0, 1), 10)
	assert.Len(t, sampleBackground(X, 50, 1), 10)

	a := sampleBackground(X, 4, 7)
	require.Len(t, a, 4)
	assert.Equal(t, a, sampleBackground(X, 4, 7))
	for i := 1; i < len(a); i++ {
		assert.Less(t, a[i-1][0], a[i][0], "training order is preserved")
	}
}

func TestEvaluate(t *testing.T) {
	proba := []float64{0.9, 0.8, 0.3, 0.2, 0.6}
	y := []int{1, 1, 0, 0, 0}

	m := evaluate(proba, y)
	assert.Equal(t, 5, m.TrainingSamples)
	assert.Equal(t, 2, m.Positives)
	assert.Equal(t, 3, m.Negatives)
	assert.InDelta(t, 0.8, m.Accuracy, 1e-12)
	assert.InDelta(t, 2.0/3.0, m.Precision, 1e-12)
	assert.InDelta(t, 1.0, m.Recall, 1e-12)
	assert.InDelta(t, 0.8, m.F1Score, 1e-12)
	assert.InDelta(t, 1.0, m.AUCScore, 1e-12)
	assert.Greater(t, m.LogLoss, 0.0)
}

func TestRocAUC(t *testing.T) {
	testCases := []struct {
		name  string
		proba []float64
		y     []int
		want  float64
	}{
		{"perfect", []float64{0.1, 0.2, 0.8, 0.9}, []int{0, 0, 1, 1}, 1},
		{"inverted", []float64{0.9, 0.8, 0.2, 0.1}, []int{0, 0, 1, 1}, 0},
		{"all tied", []float64{0.5, 0.5, 0.5, 0.5}, []int{0, 1, 0, 1}, 0.5},
		{"single class", []float64{0.1, 0.9}, []int{1, 1}, 0.5},
		{"partial", []float64{0.1, 0.4, 0.35, 0.8}, []int{0, 0, 1, 1}, 0.75},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, rocAUC(tc.proba, tc.y), 1e-12)
		})
	}
}
