package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"churn-engine/internal/common"
	"churn-engine/internal/dataset"

	"github.com/rs/zerolog/log"
)

// ExplainMethod selects how contributions are computed.
type ExplainMethod string

const (
	MethodAuto        ExplainMethod = "auto"
	MethodTree        ExplainMethod = "tree-interventional"
	MethodPermutation ExplainMethod = "permutation-sampling"
)

// ParseExplainMethod accepts the canonical names and the short forms "tree" and "permutation".
func ParseExplainMethod(s string) (ExplainMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return MethodAuto, nil
	case "tree", string(MethodTree):
		return MethodTree, nil
	case "permutation", string(MethodPermutation):
		return MethodPermutation, nil
	}
	return "", fmt.Errorf("unknown explanation method %q", s)
}

// ExplainConfig configures explanations.
type ExplainConfig struct {
	Method       ExplainMethod `json:"method" yaml:"method"`
	Permutations int           `json:"permutations" yaml:"permutations"`
	Tolerance    float64       `json:"tolerance" yaml:"tolerance"`
}

func (c ExplainConfig) withDefaults() ExplainConfig {
	if c.Method == "" {
		c.Method = MethodAuto
	}
	if c.Permutations <= 0 {
		c.Permutations = common.DefaultPermutations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = common.DefaultExplainTolerance
	}
	return c
}

// IndexOutOfRangeError reports an explanation request for a row that does not exist.
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("record index %d out of range [0, %d)", e.Index, e.Len)
}

// Contribution is the signed share of one feature in moving the prediction away from the
// base value.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        string  `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Explanation attributes one prediction to the model's features. Contributions are in schema
// order and sum to Prediction - BaseValue up to Residual.
type Explanation struct {
	Row           int            `json:"row"`
	CustomerID    string         `json:"customer_id,omitempty"`
	ModelID       string         `json:"model_id"`
	Method        ExplainMethod  `json:"method"`
	BaseValue     float64        `json:"base_value"`
	Prediction    float64        `json:"prediction"`
	Contributions []Contribution `json:"contributions"`
	Residual      float64        `json:"residual"`
	Unreliable    bool           `json:"unreliable"`
}

// Sum returns the total of all contributions.
func (e *Explanation) Sum() float64 {
	var s float64
	for _, c := range e.Contributions {
		s += c.Contribution
	}
	return s
}

// Ranked returns the contributions ordered by decreasing magnitude.
func (e *Explanation) Ranked() []Contribution {
	out := append([]Contribution(nil), e.Contributions...)
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Contribution) > math.Abs(out[j].Contribution)
	})
	return out
}

// Explain attributes the model's prediction for row of frame to its features. frame must be
// the scoring frame the row index refers to.
func (p *Predictor) Explain(ctx context.Context, frame *dataset.Frame, model *TrainedModel, row int) (*Explanation, error) {
	if p == nil || model == nil {
		return nil, fmt.Errorf("predictor or model not initialized")
	}
	if row < 0 || row >= frame.Len() {
		return nil, &IndexOutOfRangeError{Index: row, Len: frame.Len()}
	}

	start := time.Now()
	x, err := model.prep.TransformRow(frame, row)
	if err != nil {
		return nil, fmt.Errorf("encode row %d: %w", row, err)
	}

	method := p.resolveMethod(model)
	groups := model.prep.Groups()
	nGroups := len(model.prep.Features)

	var phi []float64
	switch method {
	case MethodTree:
		phi, err = treeContributions(ctx, model.classifier.(*Forest), x, model.background, groups, nGroups)
	default:
		phi, err = permutationContributions(ctx, model, x, groups, nGroups, p.explain.Permutations, model.config.Seed+int64(row))
	}
	if err != nil {
		return nil, fmt.Errorf("explain row %d: %w", row, err)
	}

	exp := &Explanation{
		Row:           row,
		ModelID:       model.id,
		Method:        method,
		BaseValue:     model.baseValue,
		Prediction:    model.PredictProba(x),
		Contributions: make([]Contribution, nGroups),
	}
	if model.schema.IDColumn != "" {
		exp.CustomerID = frame.Value(row, model.schema.IDColumn)
	}
	for g, enc := range model.prep.Features {
		exp.Contributions[g] = Contribution{
			Feature:      enc.Name,
			Value:        frame.Value(row, enc.Name),
			Contribution: phi[g],
		}
	}

	exp.Residual = exp.Sum() - (exp.Prediction - exp.BaseValue)
	if math.Abs(exp.Residual) > p.explain.Tolerance {
		exp.Unreliable = true
		p.metrics.UnreliableExplanationsInc()
		log.Error().
			Str("model_id", model.id).
			Int("row", row).
			Str("method", string(method)).
			Float64("residual", exp.Residual).
			Float64("tolerance", p.explain.Tolerance).
			Msg("Explanation does not reconcile with prediction")
	}

	p.metrics.ExplanationLatencyObserve(time.Since(start).Seconds())
	return exp, nil
}

func (p *Predictor) resolveMethod(model *TrainedModel) ExplainMethod {
	_, isForest := model.classifier.(*Forest)
	switch p.explain.Method {
	case MethodPermutation:
		return MethodPermutation
	case MethodTree:
		if isForest {
			return MethodTree
		}
		log.Warn().Str("family", string(model.Family())).Msg("Tree explanations need a forest, using permutation sampling")
		return MethodPermutation
	}
	if isForest {
		return MethodTree
	}
	return MethodPermutation
}

// permutationContributions estimates Shapley values by walking random orderings of the
// feature groups from each background row towards x. Every ordering is paired with its
// reverse. Each walk telescopes to f(x) - f(b), so the estimate reconciles exactly with the
// prediction whatever the sample size.
func permutationContributions(ctx context.Context, model *TrainedModel, x []float64, groups []int, nGroups, permutations int, seed int64) ([]float64, error) {
	members := make([][]int, nGroups)
	for col, g := range groups {
		members[g] = append(members[g], col)
	}

	rnd := rand.New(rand.NewSource(seed))
	phi := make([]float64, nGroups)
	z := make([]float64, len(x))
	order := make([]int, nGroups)
	walks := 0

	walk := func(b []float64) {
		copy(z, b)
		prev := model.PredictProba(z)
		for _, g := range order {
			for _, col := range members[g] {
				z[col] = x[col]
			}
			cur := model.PredictProba(z)
			phi[g] += cur - prev
			prev = cur
		}
		walks++
	}

	for _, b := range model.background {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for k := 0; k < permutations; k++ {
			copy(order, rnd.Perm(nGroups))
			walk(b)
			for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
				order[i], order[j] = order[j], order[i]
			}
			walk(b)
		}
	}

	for g := range phi {
		phi[g] /= float64(walks)
	}
	return phi, nil
}
