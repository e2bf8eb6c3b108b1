package forest

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// TreeConfig configures a single classifier tree.
type TreeConfig struct {
	Rules StopRules
	// Rand drives feature subspace sampling. A randomly seeded source is
	// used when nil.
	Rand *rand.Rand
}

// Tree is a CART classifier tree. It is trained once and read-only after.
type Tree[L comparable] struct {
	root      *Node[L]
	nFeatures int
	rules     StopRules
	rng       *rand.Rand
}

// NewTree creates an untrained tree that samples nFeatures candidate
// columns at every node.
func NewTree[L comparable](nFeatures int, config TreeConfig) *Tree[L] {
	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Tree[L]{
		nFeatures: nFeatures,
		rules:     config.Rules,
		rng:       rng,
	}
}

// Train grows the tree over x and y. The one-hot class set is derived from
// y alone.
func (t *Tree[L]) Train(x [][]float64, y []L) error {
	return t.train(x, y, nil)
}

// train grows the tree using classes for one-hot encoding, or the classes
// of y when classes is nil.
func (t *Tree[L]) train(x [][]float64, y []L, classes *Classes[L]) error {
	if t.root != nil {
		return ErrAlreadyTrained
	}
	nf, err := validateInput(x, y)
	if err != nil {
		return err
	}
	if t.nFeatures < 1 || t.nFeatures > nf {
		return fmt.Errorf("%w: subspace %d, %d features", ErrSubspaceTooLarge, t.nFeatures, nf)
	}
	if classes == nil {
		classes = NewClasses(y)
	}
	target, err := classes.Encode(y)
	if err != nil {
		return err
	}
	return t.grow(x, y, target)
}

func (t *Tree[L]) grow(x [][]float64, y []L, target *mat.Dense) error {
	root := newNode[L](t.nFeatures, 1)
	if err := root.attemptSplit(x, y, target, t.rules, t.rng); err != nil {
		return err
	}
	t.root = root
	return nil
}

// Classify returns one predicted label per row of x, in row order.
func (t *Tree[L]) Classify(x [][]float64) ([]L, error) {
	if t.root == nil {
		return nil, ErrNotFitted
	}
	for i, row := range x {
		if len(row) <= t.maxFeature() {
			return nil, fmt.Errorf("%w: row %d has %d columns", ErrFeatureCount, i, len(row))
		}
	}
	return t.classify(x), nil
}

func (t *Tree[L]) classify(x [][]float64) []L {
	out := make([]L, len(x))
	for i, row := range x {
		out[i] = t.root.Sort(row)
	}
	return out
}

// maxFeature is the highest column index any split in the tree reads, or -1
// for a single-leaf tree.
func (t *Tree[L]) maxFeature() int {
	highest := -1
	var walk func(n *Node[L])
	walk = func(n *Node[L]) {
		if n.Leaf {
			return
		}
		highest = max(highest, n.Feature)
		walk(n.Left)
		walk(n.Right)
	}
	walk(t.root)
	return highest
}

// Root returns the root node, or nil before training.
func (t *Tree[L]) Root() *Node[L] { return t.root }

func (t *Tree[L]) NFeatures() int { return t.nFeatures }

// Depth is the number of splits on the longest root-to-leaf path.
func (t *Tree[L]) Depth() int {
	if t.root == nil {
		return 0
	}
	return t.root.depth()
}

func (t *Tree[L]) NodeCount() int {
	if t.root == nil {
		return 0
	}
	nodes, _ := t.root.count()
	return nodes
}

func (t *Tree[L]) LeafCount() int {
	if t.root == nil {
		return 0
	}
	_, leaves := t.root.count()
	return leaves
}
