package ml

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Logistic is a binary logistic regression over the encoded feature vector.
type Logistic struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

func (m *Logistic) Family() Family {
	return FamilyLogistic
}

func (m *Logistic) PredictProba(x []float64) float64 {
	return sigmoid(floats.Dot(m.Weights, x) + m.Bias)
}

type logisticParams struct {
	epochs       int
	learningRate float64
	l2           float64
}

// ctxCheckEvery is how many epochs pass between cancellation checks.
const ctxCheckEvery = 25

// fitLogistic minimises L2-regularised log-loss by full-batch gradient descent from zero
// weights. There is no random initialisation, so the fit is fully deterministic.
func fitLogistic(ctx context.Context, X [][]float64, y []int, p logisticParams) (*Logistic, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("logistic: no training rows")
	}
	if p.epochs <= 0 || p.learningRate <= 0 {
		return nil, fmt.Errorf("logistic: epochs and learning rate must be positive")
	}

	n := float64(len(X))
	m := &Logistic{Weights: make([]float64, len(X[0]))}
	grad := make([]float64, len(m.Weights))

	for epoch := 0; epoch < p.epochs; epoch++ {
		if epoch%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("logistic training interrupted at epoch %d: %w", epoch, err)
			}
		}

		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, x := range X {
			residual := m.PredictProba(x) - float64(y[i])
			floats.AddScaled(grad, residual, x)
			gradBias += residual
		}

		floats.Scale(1/n, grad)
		floats.AddScaled(grad, p.l2, m.Weights)
		floats.AddScaled(m.Weights, -p.learningRate, grad)
		m.Bias -= p.learningRate * gradBias / n
	}

	return m, nil
}
