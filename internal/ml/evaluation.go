package ml

import (
	"math"
	"sort"
)

// ModelMetrics contains in-sample performance metrics for a model at threshold 0.5.
type ModelMetrics struct {
	AUCScore        float64 `json:"auc_score"`
	Accuracy        float64 `json:"accuracy"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1Score         float64 `json:"f1_score"`
	LogLoss         float64 `json:"log_loss"`
	ChurnRate       float64 `json:"churn_rate"`
	TrainingSamples int     `json:"training_samples"`
	Positives       int     `json:"positives"`
	Negatives       int     `json:"negatives"`
}

const logLossEps = 1e-15

func evaluate(proba []float64, y []int) ModelMetrics {
	m := ModelMetrics{TrainingSamples: len(y)}
	if len(y) == 0 {
		return m
	}

	var tp, fp, tn, fn int
	var loss float64
	for i, p := range proba {
		pred := 0
		if p >= 0.5 {
			pred = 1
		}
		switch {
		case pred == 1 && y[i] == 1:
			tp++
		case pred == 1 && y[i] == 0:
			fp++
		case pred == 0 && y[i] == 0:
			tn++
		default:
			fn++
		}

		q := math.Min(math.Max(p, logLossEps), 1-logLossEps)
		if y[i] == 1 {
			loss -= math.Log(q)
		} else {
			loss -= math.Log(1 - q)
		}
	}

	m.Positives = tp + fn
	m.Negatives = tn + fp
	m.ChurnRate = float64(m.Positives) / float64(len(y))
	m.Accuracy = float64(tp+tn) / float64(len(y))
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1Score = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.LogLoss = loss / float64(len(y))
	m.AUCScore = rocAUC(proba, y)
	return m
}

// rocAUC computes the area under the ROC curve as the normalised Mann-Whitney U statistic,
// giving tied scores their average rank.
func rocAUC(proba []float64, y []int) float64 {
	n := len(proba)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return proba[order[a]] < proba[order[b]] })

	var rankSum float64
	positives := 0
	for i := 0; i < n; {
		j := i
		for j+1 < n && proba[order[j+1]] == proba[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if y[order[k]] == 1 {
				rankSum += avg
				positives++
			}
		}
		i = j + 1
	}

	negatives := n - positives
	if positives == 0 || negatives == 0 {
		return 0.5
	}
	u := rankSum - float64(positives*(positives+1))/2
	return u / float64(positives*negatives)
}
