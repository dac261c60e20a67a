package ml

import (
	"fmt"
	"strconv"
	"testing"

	"churn-engine/internal/preprocess"
	"churn-engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fittedChurn(t *testing.T) *preprocess.Fitted {
	t.Helper()
	frame := testutil.ChurnFrame(2000, 0.14, 1)
	fitted, err := preprocess.Fit(frame, churnSchema(t, frame))
	require.NoError(t, err)
	return fitted
}

func alertFor(report *DriftReport, feature string) *DriftAlert {
	for i := range report.Alerts {
		if report.Alerts[i].FeatureName == feature {
			return &report.Alerts[i]
		}
	}
	return nil
}

func TestDetectDrift_StablePopulation(t *testing.T) {
	fitted := fittedChurn(t)

	report, err := DetectDrift(fitted, testutil.ScoringFrame(2000, 99), 0.2)
	require.NoError(t, err)

	assert.Equal(t, 2000, report.Samples)
	assert.Len(t, report.Features, len(fitted.Features))
	assert.Empty(t, report.Alerts)
	for _, fd := range report.Features {
		assert.Less(t, fd.DriftScore, 0.1, fd.FeatureName)
	}
}

func TestDetectDrift_ShiftedNumeric(t *testing.T) {
	fitted := fittedChurn(t)
	shifted := testutil.MapColumn(testutil.ScoringFrame(1000, 5), "Total_Day_charge", func(_ int, v string) string {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return v
		}
		return fmt.Sprintf("%.2f", f+25)
	})

	report, err := DetectDrift(fitted, shifted, 0.2)
	require.NoError(t, err)

	alert := alertFor(report, "Total_Day_charge")
	require.NotNil(t, alert)
	assert.Equal(t, PopulationStabilityIndex, alert.Method)
	assert.Equal(t, "critical", alert.Severity)
	assert.Contains(t, alert.Recommendation, "Retrain")
	assert.Nil(t, alertFor(report, "Total_Night_Charge"))
}

func TestDetectDrift_UnknownCategories(t *testing.T) {
	fitted := fittedChurn(t)
	frame := testutil.MapColumn(testutil.ScoringFrame(100, 5), "State", func(row int, v string) string {
		if row%2 == 0 {
			return "ZZ"
		}
		return v
	})

	report, err := DetectDrift(fitted, frame, 0.2)
	require.NoError(t, err)

	alert := alertFor(report, "State")
	require.NotNil(t, alert)
	assert.Equal(t, UnknownCategoryRate, alert.Method)
	assert.InDelta(t, 0.5, alert.DriftScore, 1e-12)
	assert.Equal(t, "high", alert.Severity)
	assert.Contains(t, alert.Description, "50 values")
}

func TestDetectDrift_SmallPopulation(t *testing.T) {
	report, err := DetectDrift(fittedChurn(t), testutil.ScoringFrame(10, 5), 0.2)
	require.NoError(t, err)
	assert.Empty(t, report.Features)
	assert.Empty(t, report.Alerts)

	_, err = DetectDrift(nil, testutil.ScoringFrame(10, 5), 0.2)
	assert.Error(t, err)
}

func TestPopulationStabilityIndex(t *testing.T) {
	same := []float64{0.25, 0.25, 0.5}
	assert.InDelta(t, 0, populationStabilityIndex(same, same), 1e-12)

	psi := populationStabilityIndex([]float64{0.5, 0.5, 0}, []float64{0.1, 0.1, 0.8})
	assert.Greater(t, psi, 1.0)
}
