package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// Node is one node of a flattened CART tree. Leaves have Feature == -1.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value"`
	Samples   int     `json:"samples"`
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool {
	return n.Feature < 0
}

// Tree is a binary CART tree; rows with x[Feature] <= Threshold go left. Leaf values are the
// positive-class frequency of the training rows that reached them.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict returns the leaf value reached by x.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a bagged ensemble of trees. Its probability is the mean leaf value.
type Forest struct {
	Trees []Tree `json:"trees"`
}

func (f *Forest) Family() Family {
	return FamilyForest
}

func (f *Forest) PredictProba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}

type forestParams struct {
	trees          int
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int
	seed           int64
}

// fitForest grows the trees concurrently. Tree i draws its bootstrap sample and feature
// subsets from its own source seeded with seed+i, so the result does not depend on
// scheduling.
func fitForest(ctx context.Context, X [][]float64, y []int, p forestParams) (*Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("forest: no training rows")
	}
	if p.trees <= 0 {
		return nil, fmt.Errorf("forest: tree count must be positive, got %d", p.trees)
	}

	forest := &Forest{Trees: make([]Tree, p.trees)}

	workers := runtime.GOMAXPROCS(0)
	if workers > p.trees {
		workers = p.trees
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				forest.Trees[i] = growTree(X, y, p, rand.New(rand.NewSource(p.seed+int64(i))))
			}
		}()
	}

	var err error
	for i := 0; i < p.trees; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return nil, fmt.Errorf("forest training interrupted: %w", err)
	}
	return forest, nil
}

type treeBuilder struct {
	X      [][]float64
	y      []int
	params forestParams
	rnd    *rand.Rand
	nodes  []Node
	feats  []int
	pairs  []valueLabel
}

type valueLabel struct {
	v     float64
	label int
}

func growTree(X [][]float64, y []int, p forestParams, rnd *rand.Rand) Tree {
	n := len(X)
	sample := make([]int, n)
	for i := range sample {
		sample[i] = rnd.Intn(n)
	}

	width := len(X[0])
	b := &treeBuilder{
		X:      X,
		y:      y,
		params: p,
		rnd:    rnd,
		feats:  make([]int, width),
		pairs:  make([]valueLabel, 0, n),
	}
	for j := range b.feats {
		b.feats[j] = j
	}
	b.build(sample, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) build(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature: -1,
		Value:   float64(pos) / float64(len(idx)),
		Samples: len(idx),
	})

	minLeaf := b.params.minSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}
	if pos == 0 || pos == len(idx) || len(idx) < 2*minLeaf {
		return id
	}
	if b.params.maxDepth > 0 && depth >= b.params.maxDepth {
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, pos, minLeaf)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return id
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	node := &b.nodes[id]
	node.Feature = feature
	node.Threshold = threshold
	node.Left = l
	node.Right = r
	return id
}

// bestSplit searches a random subset of columns for the split with the lowest weighted gini
// impurity. Candidate thresholds are midpoints between consecutive distinct values.
func (b *treeBuilder) bestSplit(idx []int, pos, minLeaf int) (int, float64, bool) {
	width := len(b.feats)
	k := b.params.maxFeatures
	if k <= 0 || k > width {
		k = width
	}
	for i := 0; i < k; i++ {
		j := i + b.rnd.Intn(width-i)
		b.feats[i], b.feats[j] = b.feats[j], b.feats[i]
	}

	n := len(idx)
	best := weightedGini(n, pos, 0, 0)
	bestFeature, bestThreshold, found := -1, 0.0, false

	for _, f := range b.feats[:k] {
		b.pairs = b.pairs[:0]
		for _, i := range idx {
			b.pairs = append(b.pairs, valueLabel{v: b.X[i][f], label: b.y[i]})
		}
		sort.Slice(b.pairs, func(a, c int) bool { return b.pairs[a].v < b.pairs[c].v })

		if b.pairs[0].v == b.pairs[n-1].v {
			continue
		}

		leftPos := 0
		for i := 0; i < n-1; i++ {
			leftPos += b.pairs[i].label
			if b.pairs[i].v == b.pairs[i+1].v {
				continue
			}
			nl := i + 1
			if nl < minLeaf || n-nl < minLeaf {
				continue
			}
			score := weightedGini(nl, leftPos, n-nl, pos-leftPos)
			if score < best-1e-12 {
				best = score
				bestFeature = f
				bestThreshold = b.pairs[i].v + (b.pairs[i+1].v-b.pairs[i].v)/2
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}

// weightedGini returns n_l*gini(l) + n_r*gini(r) for a binary target.
func weightedGini(nl, posl, nr, posr int) float64 {
	g := func(n, pos int) float64 {
		if n == 0 {
			return 0
		}
		p := float64(pos) / float64(n)
		return float64(n) * 2 * p * (1 - p)
	}
	return g(nl, posl) + g(nr, posr)
}

// defaultMaxFeatures is the usual sqrt(width) column subsample for classification forests.
func defaultMaxFeatures(width int) int {
	k := int(math.Round(math.Sqrt(float64(width))))
	if k < 1 {
		k = 1
	}
	return k
}
