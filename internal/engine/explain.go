package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"churn-engine/internal/ml"
)

// Chart series colours.
const (
	colorIncrease = "#d62728"
	colorDecrease = "#1f77b4"
)

// Artifact is the renderable result of an explanation request: the attribution data and a
// chart description a presentation layer can draw without further computation.
type Artifact struct {
	Explanation *ml.Explanation `json:"explanation"`
	Chart       ChartSpec       `json:"chart"`
}

// ChartSpec describes a horizontal bar chart of signed feature contributions.
type ChartSpec struct {
	Type        string        `json:"type"`
	Orientation string        `json:"orientation"`
	Title       string        `json:"title"`
	XAxisLabel  string        `json:"x_axis_label"`
	BaseValue   float64       `json:"base_value"`
	Prediction  float64       `json:"prediction"`
	Series      []ChartSeries `json:"series"`
}

// ChartSeries is one colour of bars.
type ChartSeries struct {
	Name  string     `json:"name"`
	Color string     `json:"color"`
	Bars  []ChartBar `json:"bars"`
}

// ChartBar is one feature's bar, labelled "feature = raw value".
type ChartBar struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// NewChartSpec builds the chart for exp. Bars within each series are ordered by decreasing
// magnitude; zero contributions are omitted.
func NewChartSpec(exp *ml.Explanation) ChartSpec {
	title := fmt.Sprintf("Churn risk %.1f%% (base %.1f%%)", exp.Prediction*100, exp.BaseValue*100)
	if exp.CustomerID != "" {
		title = fmt.Sprintf("Customer %s: %s", exp.CustomerID, title)
	}

	increase := ChartSeries{Name: "Increases churn risk", Color: colorIncrease, Bars: []ChartBar{}}
	decrease := ChartSeries{Name: "Decreases churn risk", Color: colorDecrease, Bars: []ChartBar{}}
	for _, c := range exp.Ranked() {
		bar := ChartBar{Label: fmt.Sprintf("%s = %s", c.Feature, c.Value), Value: c.Contribution}
		switch {
		case c.Contribution > 0:
			increase.Bars = append(increase.Bars, bar)
		case c.Contribution < 0:
			decrease.Bars = append(decrease.Bars, bar)
		}
	}
	for _, s := range []*ChartSeries{&increase, &decrease} {
		sort.SliceStable(s.Bars, func(i, j int) bool {
			return math.Abs(s.Bars[i].Value) > math.Abs(s.Bars[j].Value)
		})
	}

	return ChartSpec{
		Type:        "bar",
		Orientation: "horizontal",
		Title:       title,
		XAxisLabel:  "Contribution to churn probability",
		BaseValue:   exp.BaseValue,
		Prediction:  exp.Prediction,
		Series:      []ChartSeries{increase, decrease},
	}
}

// GetShapExplanation explains the live model's prediction for one row of the scored data.
// It requires the Scored state; rows outside the scored data yield *ml.IndexOutOfRangeError.
func (e *Engine) GetShapExplanation(ctx context.Context, index int) (*Artifact, error) {
	cur, err := e.scoredSession()
	if err != nil {
		return nil, err
	}

	exp, err := e.predictor.Explain(ctx, cur.scored, cur.model, index)
	if err != nil {
		return nil, err
	}
	return &Artifact{Explanation: exp, Chart: NewChartSpec(exp)}, nil
}

// ExplainCustomer explains the scored row of the customer with the given identifier.
func (e *Engine) ExplainCustomer(ctx context.Context, customerID string) (*Artifact, error) {
	row, err := e.IndexOf(customerID)
	if err != nil {
		return nil, err
	}
	return e.GetShapExplanation(ctx, row)
}

// FeatureImportance ranks the live model's features by mean absolute contribution over a
// sample of the scored rows. sample <= 0 uses the configured sample size.
func (e *Engine) FeatureImportance(ctx context.Context, sample int) ([]ml.FeatureStats, error) {
	cur, err := e.scoredSession()
	if err != nil {
		return nil, err
	}
	if sample <= 0 {
		sample = e.cfg.ImportanceSample
	}
	return e.predictor.FeatureImportance(ctx, cur.scored, cur.model, sample)
}
