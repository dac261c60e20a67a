package preprocess

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"churn-engine/internal/dataset"
	"churn-engine/internal/schema"
	"churn-engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tinyCSV = `id,plan,charge,label
a,gold,10,1
b,silver,20,0
c,gold,,0
d,bronze,30,1
e,silver,40,0
`

func fitTiny(t *testing.T) (*Fitted, *dataset.Frame) {
	t.Helper()
	frame, err := dataset.ReadCSV(strings.NewReader(tinyCSV))
	require.NoError(t, err)

	s, err := schema.Spec{IDColumn: "id", TargetColumn: "label"}.Validate(frame, schema.RoleTraining)
	require.NoError(t, err)

	fitted, err := Fit(frame, s)
	require.NoError(t, err)
	return fitted, frame
}

func TestFit_Layout(t *testing.T) {
	fitted, _ := fitTiny(t)

	require.Len(t, fitted.Features, 2)
	plan, charge := fitted.Features[0], fitted.Features[1]

	assert.Equal(t, schema.Categorical, plan.Type)
	assert.Equal(t, []string{"bronze", "gold", "silver"}, plan.Categories)
	assert.Equal(t, 0, plan.Offset)
	assert.Equal(t, 4, plan.Width)

	assert.Equal(t, schema.Numeric, charge.Type)
	assert.Equal(t, 4, charge.Offset)
	assert.Equal(t, 5, fitted.Width)
	assert.Equal(t, 20.0, charge.Median, "lower empirical median of 10,20,30,40")

	assert.Equal(t, []int{0, 0, 0, 0, 1}, fitted.Groups())
	assert.Equal(t, []string{"plan=<unknown>", "plan=bronze", "plan=gold", "plan=silver", "charge"}, fitted.EncodedNames())
}

func TestTransform_ImputesAndScales(t *testing.T) {
	fitted, frame := fitTiny(t)

	X, err := fitted.Transform(frame)
	require.NoError(t, err)
	require.Len(t, X, 5)

	charge := fitted.Features[1]
	assert.InDelta(t, (20-charge.Mean)/charge.Scale, X[2][4], 1e-12, "missing charge imputed with median")

	var sum float64
	for _, row := range X {
		sum += row[4]
	}
	assert.InDelta(t, 0, sum/5, 1e-9, "standardised column has zero mean")

	assert.Equal(t, []float64{0, 0, 1, 0}, X[0][:4])
	assert.Equal(t, []float64{0, 0, 0, 1}, X[1][:4])
}

func TestTransform_UnknownCategory(t *testing.T) {
	fitted, _ := fitTiny(t)

	scoring, err := dataset.ReadCSV(strings.NewReader("id,plan,charge\nz,platinum,15\n"))
	require.NoError(t, err)

	X, err := fitted.Transform(scoring)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0}, X[0][:4])
}

func TestTransform_Idempotent(t *testing.T) {
	frame := testutil.ChurnFrame(300, 0.14, 11)
	s, err := schema.Spec{IDColumn: "Phone_No", TargetColumn: "Churn?"}.Validate(frame, schema.RoleTraining)
	require.NoError(t, err)

	fitted, err := Fit(frame, s)
	require.NoError(t, err)

	a, err := fitted.Transform(frame)
	require.NoError(t, err)
	b, err := fitted.Transform(frame)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		for j := range a[i] {
			require.Equal(t, math.Float64bits(a[i][j]), math.Float64bits(b[i][j]), "row %d col %d", i, j)
		}
	}

	row, err := fitted.TransformRow(frame, 17)
	require.NoError(t, err)
	assert.Equal(t, a[17], row)
}

func TestTransform_MissingColumn(t *testing.T) {
	fitted, _ := fitTiny(t)

	scoring, err := dataset.ReadCSV(strings.NewReader("id,plan\nz,gold\n"))
	require.NoError(t, err)

	_, err = fitted.Transform(scoring)
	var mismatch *schema.MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{"charge"}, mismatch.MissingColumns)
}

func TestFitted_JSONRoundTripKeepsLookups(t *testing.T) {
	fitted, frame := fitTiny(t)

	data, err := json.Marshal(fitted)
	require.NoError(t, err)

	var restored Fitted
	require.NoError(t, json.Unmarshal(data, &restored))

	want, err := fitted.Transform(frame)
	require.NoError(t, err)
	got, err := restored.Transform(frame)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEncoding_Bin(t *testing.T) {
	enc := Encoding{Edges: []float64{1, 2, 3}}
	assert.Equal(t, 0, enc.Bin(0.5))
	assert.Equal(t, 0, enc.Bin(1))
	assert.Equal(t, 1, enc.Bin(1.5))
	assert.Equal(t, 3, enc.Bin(10))
}
