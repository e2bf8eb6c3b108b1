package forest

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// StopRules control when induction turns a node into a leaf.
type StopRules struct {
	// PurityThreshold stops splitting once the majority class covers more
	// than this fraction of the node's rows.
	PurityThreshold float64 `yaml:"purityThreshold" json:"purity_threshold"`
	// MinGiniDecrease stops splitting when the best split improves the
	// inherited impurity by less than this amount.
	MinGiniDecrease float64 `yaml:"minGiniDecrease" json:"min_gini_decrease"`
}

const (
	DefaultPurityThreshold = 0.9
	DefaultMinGiniDecrease = 0.01
)

func DefaultStopRules() StopRules {
	return StopRules{
		PurityThreshold: DefaultPurityThreshold,
		MinGiniDecrease: DefaultMinGiniDecrease,
	}
}

// NoStopRules disables the purity and impurity-decrease rules so a tree
// grows until its leaves are pure or no longer separable.
func NoStopRules() StopRules {
	return StopRules{
		PurityThreshold: 1,
		MinGiniDecrease: math.Inf(-1),
	}
}

// Node is a binary decision node. A leaf holds Label and no children; an
// internal node routes rows with Feature <= Threshold to Left and the rest
// to Right.
type Node[L comparable] struct {
	Feature   int      `json:"feature"`
	Threshold float64  `json:"threshold"`
	Gini      float64  `json:"gini"`
	Left      *Node[L] `json:"left,omitempty"`
	Right     *Node[L] `json:"right,omitempty"`
	Label     L        `json:"label,omitempty"`
	Leaf      bool     `json:"leaf,omitempty"`

	// NFeatures is the size of the random feature subspace evaluated when
	// this node was split.
	NFeatures int `json:"-"`
}

func newNode[L comparable](nFeatures int, floor float64) *Node[L] {
	return &Node[L]{NFeatures: nFeatures, Gini: floor}
}

func (n *Node[L]) IsLeaf() bool {
	return n.Leaf
}

func (n *Node[L]) setLeaf(label L) {
	n.Label = label
	n.Leaf = true
}

// Subset is the slice of training data reaching a node: rows, labels and
// one-hot targets, all row-aligned. Target is nil for an empty subset.
type Subset[L comparable] struct {
	X      [][]float64
	Y      []L
	Target *mat.Dense
}

func (s Subset[L]) Len() int { return len(s.Y) }

// Partition splits rows on feature: values <= threshold go left, the rest go
// right. Row slices are shared, not copied.
func Partition[L comparable](x [][]float64, y []L, target *mat.Dense, feature int, threshold float64) (left, right Subset[L]) {
	var leftRows, rightRows []int
	for i, row := range x {
		if row[feature] <= threshold {
			leftRows = append(leftRows, i)
		} else {
			rightRows = append(rightRows, i)
		}
	}
	return subset(x, y, target, leftRows), subset(x, y, target, rightRows)
}

func subset[L comparable](x [][]float64, y []L, target *mat.Dense, rows []int) Subset[L] {
	if len(rows) == 0 {
		return Subset[L]{}
	}
	_, c := target.Dims()
	s := Subset[L]{
		X:      make([][]float64, len(rows)),
		Y:      make([]L, len(rows)),
		Target: mat.NewDense(len(rows), c, nil),
	}
	for i, r := range rows {
		s.X[i] = x[r]
		s.Y[i] = y[r]
		s.Target.SetRow(i, target.RawRowView(r))
	}
	return s
}

// attemptSplit grows the subtree rooted at n over the rows reaching it.
// n.Gini holds the impurity floor inherited from the parent on entry.
func (n *Node[L]) attemptSplit(x [][]float64, y []L, target *mat.Dense, rules StopRules, rng *rand.Rand) error {
	label, count, distinct := majority(y)
	if distinct == 1 || float64(count)/float64(len(y)) > rules.PurityThreshold {
		n.setLeaf(label)
		return nil
	}

	feature, split, err := n.bestFeature(x, target, rng)
	if err != nil {
		return err
	}

	if n.Gini-split.Gini < rules.MinGiniDecrease {
		n.setLeaf(label)
		return nil
	}

	left, right := Partition(x, y, target, feature, split.Value)
	if left.Len() == 0 || right.Len() == 0 {
		n.setLeaf(label)
		return nil
	}

	n.Feature = feature
	n.Threshold = split.Value
	n.Gini = split.Gini
	n.Left = newNode[L](n.NFeatures, split.Gini)
	n.Right = newNode[L](n.NFeatures, split.Gini)
	if err := n.Left.attemptSplit(left.X, left.Y, left.Target, rules, rng); err != nil {
		return err
	}
	return n.Right.attemptSplit(right.X, right.Y, right.Target, rules, rng)
}

// bestFeature evaluates a fresh random subspace of NFeatures columns and
// returns the column and split with the lowest weighted impurity.
func (n *Node[L]) bestFeature(x [][]float64, target *mat.Dense, rng *rand.Rand) (int, Split, error) {
	features := sampleFeatures(rng, len(x[0]), n.NFeatures)
	column := make([]float64, len(x))

	bestFeature := -1
	var best Split
	for _, f := range features {
		for i, row := range x {
			column[i] = row[f]
		}
		s, err := BestSplit(column, target)
		if err != nil {
			return 0, Split{}, err
		}
		if bestFeature < 0 || s.Gini < best.Gini {
			bestFeature, best = f, s
		}
	}
	return bestFeature, best, nil
}

// sampleFeatures draws k distinct column indices out of n.
func sampleFeatures(rng *rand.Rand, n, k int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// Sort walks an instance down the tree and returns the label of the leaf it
// reaches.
func (n *Node[L]) Sort(row []float64) L {
	node := n
	for !node.Leaf {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Label
}

func (n *Node[L]) depth() int {
	if n.Leaf {
		return 0
	}
	return 1 + max(n.Left.depth(), n.Right.depth())
}

func (n *Node[L]) count() (nodes, leaves int) {
	if n.Leaf {
		return 1, 1
	}
	ln, ll := n.Left.count()
	rn, rl := n.Right.count()
	return 1 + ln + rn, ll + rl
}

func (n *Node[L]) setSubspace(k int) {
	n.NFeatures = k
	if !n.Leaf {
		n.Left.setSubspace(k)
		n.Right.setSubspace(k)
	}
}
