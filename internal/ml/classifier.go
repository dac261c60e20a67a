// Package ml trains churn classifiers, scores customer populations and explains individual
// predictions with additive per-feature attributions.
//
// Two classifier families are supported: a bagged forest of CART trees and an
// L2-regularised logistic regression. Each family has an explanation strategy whose
// contributions reconcile with the prediction: exact interventional tree Shapley values for
// forests and antithetic permutation sampling for everything else.
package ml

import "math"

// Family names a classifier family.
type Family string

const (
	FamilyForest   Family = "forest"
	FamilyLogistic Family = "logistic"
)

// Valid reports whether f is a supported family.
func (f Family) Valid() bool {
	return f == FamilyForest || f == FamilyLogistic
}

// Classifier maps an encoded feature vector to the probability of the positive class.
// Implementations are immutable after training and safe for concurrent use.
type Classifier interface {
	Family() Family
	PredictProba(x []float64) float64
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 0
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
