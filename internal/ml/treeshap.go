package ml

// Interventional tree Shapley values.
//
// For a fixed record x and background row b, the value of a coalition S of feature groups is
// the tree output on the hybrid vector that takes S's columns from x and the rest from b.
// Walking the tree, a split where x and b go the same way constrains nothing. A split where
// they diverge forces the split's group to come from x on one branch and from b on the
// other. A leaf reached with U groups forced to x and V groups forced to b is reached by
// exactly the coalitions containing U and disjoint from V, which gives the closed-form
// attributions applied in leaf.

import (
	"context"
	"math"
)

const (
	needNone int8 = iota
	needX
	needB
)

// maxFactorial covers paths through trees of the deepest allowed configuration.
const maxFactorial = 64

var factorials = func() [maxFactorial + 1]float64 {
	var f [maxFactorial + 1]float64
	f[0] = 1
	for i := 1; i <= maxFactorial; i++ {
		f[i] = f[i-1] * float64(i)
	}
	return f
}()

func factorial(n int) float64 {
	if n <= maxFactorial {
		return factorials[n]
	}
	return math.Gamma(float64(n + 1))
}

type shapWalker struct {
	tree   *Tree
	x, b   []float64
	groups []int
	need   []int8
	stack  []int
	u, v   int
	phi    []float64
}

// interventionalShap adds to phi the exact Shapley values of the feature groups for
// tree(x) - tree(b). phi must have one slot per group and need must be all needNone.
func (t *Tree) interventionalShap(x, b []float64, groups []int, need []int8, phi []float64) {
	w := shapWalker{tree: t, x: x, b: b, groups: groups, need: need, phi: phi}
	w.walk(0)
}

func (w *shapWalker) walk(i int) {
	n := &w.tree.Nodes[i]
	if n.IsLeaf() {
		w.leaf(n.Value)
		return
	}

	xChild, bChild := n.Right, n.Right
	if w.x[n.Feature] <= n.Threshold {
		xChild = n.Left
	}
	if w.b[n.Feature] <= n.Threshold {
		bChild = n.Left
	}
	if xChild == bChild {
		w.walk(xChild)
		return
	}

	g := w.groups[n.Feature]
	switch w.need[g] {
	case needX:
		w.walk(xChild)
	case needB:
		w.walk(bChild)
	default:
		w.stack = append(w.stack, g)

		w.need[g] = needX
		w.u++
		w.walk(xChild)
		w.u--

		w.need[g] = needB
		w.v++
		w.walk(bChild)
		w.v--

		w.need[g] = needNone
		w.stack = w.stack[:len(w.stack)-1]
	}
}

func (w *shapWalker) leaf(value float64) {
	if w.u+w.v == 0 || value == 0 {
		return
	}
	total := factorial(w.u + w.v)
	var inX, inB float64
	if w.u > 0 {
		inX = value * factorial(w.u-1) * factorial(w.v) / total
	}
	if w.v > 0 {
		inB = value * factorial(w.u) * factorial(w.v-1) / total
	}
	for _, g := range w.stack {
		if w.need[g] == needX {
			w.phi[g] += inX
		} else {
			w.phi[g] -= inB
		}
	}
}

// treeContributions averages interventional Shapley values over every tree of the forest and
// every background row. The result sums to f(x) minus the mean of f over the background.
func treeContributions(ctx context.Context, f *Forest, x []float64, background [][]float64, groups []int, nGroups int) ([]float64, error) {
	phi := make([]float64, nGroups)
	need := make([]int8, nGroups)
	for _, b := range background {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for ti := range f.Trees {
			f.Trees[ti].interventionalShap(x, b, groups, need, phi)
		}
	}
	scale := 1 / float64(len(f.Trees)*len(background))
	for g := range phi {
		phi[g] *= scale
	}
	return phi, nil
}
