// Package forest implements a random forest classifier built from CART
// decision trees.
//
// Each tree is grown on a bootstrap resample of the training set. At every
// node a fresh random subset of floor(sqrt(F)) features is searched for the
// threshold that minimises weighted Gini impurity. Trees train concurrently
// on a bounded worker pool and predictions are combined by majority vote.
package forest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Forest is a random forest classifier over labels of type L.
type Forest[L comparable] struct {
	opts options

	mu        sync.RWMutex
	trees     []*Tree[L]
	classes   *Classes[L]
	nFeatures int
	subspace  int
}

// New creates an empty forest. It must be fitted before Predict.
func New[L comparable](opts ...Option) *Forest[L] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.seeded {
		o.seed = rand.Uint64()
	}
	return &Forest[L]{opts: o}
}

// Fit trains NClassifiers trees, each on its own bootstrap sample of x and y.
// Input is validated before any tree is built. If any tree fails, Fit
// returns an error wrapping ErrTrainFailed and the forest stays untrained.
func (f *Forest[L]) Fit(x [][]float64, y []L) error {
	start := time.Now()

	f.mu.RLock()
	fitted := f.trees != nil
	f.mu.RUnlock()
	if fitted {
		return ErrAlreadyTrained
	}
	if f.opts.nClassifiers < 1 {
		return fmt.Errorf("%w: got %d", ErrClassifiers, f.opts.nClassifiers)
	}

	nFeatures, err := validateInput(x, y)
	if err != nil {
		return err
	}
	subspace := int(math.Sqrt(float64(nFeatures)))

	var classes *Classes[L]
	if f.opts.classSet == ClassSetForest {
		classes = NewClasses(y)
	}

	n := f.opts.nClassifiers
	trees := make([]*Tree[L], n)
	errs := make([]error, n)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(f.opts.workers, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				trees[i], errs[i] = f.buildTree(i, x, y, subspace, classes)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("tree %d: %w", i, err))
		}
	}
	if len(failed) > 0 {
		f.opts.logger.Error().
			Int("failed", len(failed)).
			Int("trees", n).
			Msg("forest training failed")
		return fmt.Errorf("%w: %d of %d trees: %w", ErrTrainFailed, len(failed), n, errors.Join(failed...))
	}

	if classes == nil {
		classes = NewClasses(y)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trees != nil {
		return ErrAlreadyTrained
	}
	f.trees = trees
	f.classes = classes
	f.nFeatures = nFeatures
	f.subspace = subspace

	elapsed := time.Since(start)
	if f.opts.metrics != nil {
		f.opts.metrics.FitDurationObserve(elapsed.Seconds())
	}
	f.opts.logger.Info().
		Int("trees", n).
		Int("rows", len(x)).
		Int("features", nFeatures).
		Int("subspace", subspace).
		Int("classes", classes.Len()).
		Dur("elapsed", elapsed).
		Msg("forest trained")
	return nil
}

// buildTree resamples the training set and grows tree i. Each tree owns a
// random source derived from the forest seed and its index, so results do
// not depend on worker scheduling.
func (f *Forest[L]) buildTree(i int, x [][]float64, y []L, subspace int, classes *Classes[L]) (tree *Tree[L], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during induction: %v", r)
		}
		if err != nil && f.opts.metrics != nil {
			f.opts.metrics.TrainFailuresInc()
		}
	}()

	rng := rand.New(rand.NewPCG(f.opts.seed, uint64(i)))
	bx, by := bootstrap(rng, x, y)

	tree = NewTree[L](subspace, TreeConfig{Rules: f.opts.rules, Rand: rng})
	if err := tree.train(bx, by, classes); err != nil {
		return nil, err
	}

	depth, nodes := tree.Depth(), tree.NodeCount()
	if f.opts.metrics != nil {
		f.opts.metrics.TreesTrainedInc()
		f.opts.metrics.TreeDepthObserve(float64(depth))
		f.opts.metrics.TreeNodesObserve(float64(nodes))
	}
	f.opts.logger.Debug().
		Int("tree", i).
		Int("depth", depth).
		Int("nodes", nodes).
		Int("leaves", tree.LeafCount()).
		Msg("tree trained")
	return tree, nil
}

// bootstrap draws len(x) rows with replacement.
func bootstrap[L comparable](rng *rand.Rand, x [][]float64, y []L) ([][]float64, []L) {
	n := len(x)
	bx := make([][]float64, n)
	by := make([]L, n)
	for i := 0; i < n; i++ {
		r := rng.IntN(n)
		bx[i] = x[r]
		by[i] = y[r]
	}
	return bx, by
}

// Predict classifies every row of x with every tree and returns the
// majority label per row, in row order. Vote ties go to the label first seen
// when enumerating trees in index order.
func (f *Forest[L]) Predict(x [][]float64) ([]L, error) {
	start := time.Now()

	f.mu.RLock()
	trees, nFeatures := f.trees, f.nFeatures
	f.mu.RUnlock()
	if trees == nil {
		return nil, ErrNotFitted
	}
	if err := validateRows(x, nFeatures); err != nil {
		return nil, err
	}

	votes := make([][]L, len(trees))
	var wg sync.WaitGroup
	for i, t := range trees {
		wg.Add(1)
		go func() {
			defer wg.Done()
			votes[i] = t.classify(x)
		}()
	}
	wg.Wait()

	out := majorityVote(votes, len(x))
	if f.opts.metrics != nil {
		f.opts.metrics.PredictionsAdd(float64(len(out)))
		f.opts.metrics.PredictLatencyObserve(time.Since(start).Seconds())
	}
	return out, nil
}

// Fitted reports whether Fit has completed successfully.
func (f *Forest[L]) Fitted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trees != nil
}

// Trees returns the trained trees in index order.
func (f *Forest[L]) Trees() []*Tree[L] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Tree[L], len(f.trees))
	copy(out, f.trees)
	return out
}

// Classes returns the labels seen during Fit in first-seen order.
func (f *Forest[L]) Classes() []L {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.classes == nil {
		return nil
	}
	return f.classes.Labels()
}

func (f *Forest[L]) NClassifiers() int { return f.opts.nClassifiers }

func (f *Forest[L]) Seed() uint64 { return f.opts.seed }

func (f *Forest[L]) NFeatures() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nFeatures
}

// Subspace is the number of features sampled at each node.
func (f *Forest[L]) Subspace() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.subspace
}
