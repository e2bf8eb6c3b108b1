package forest

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// ClassSetMode selects how the one-hot class set is fixed for each tree.
type ClassSetMode int

const (
	// ClassSetForest fixes the class set from the full training labels
	// before bagging, so every tree encodes the same columns.
	ClassSetForest ClassSetMode = iota
	// ClassSetPerTree derives each tree's class set from its own bootstrap
	// sample.
	ClassSetPerTree
)

func (m ClassSetMode) String() string {
	switch m {
	case ClassSetForest:
		return "forest"
	case ClassSetPerTree:
		return "tree"
	default:
		return fmt.Sprintf("ClassSetMode(%d)", int(m))
	}
}

// ParseClassSetMode accepts "forest" or "tree".
func ParseClassSetMode(s string) (ClassSetMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forest":
		return ClassSetForest, nil
	case "tree", "per-tree":
		return ClassSetPerTree, nil
	default:
		return 0, fmt.Errorf("unknown class set mode %q", s)
	}
}

const DefaultClassifiers = 30

type options struct {
	nClassifiers int
	seed         uint64
	seeded       bool
	workers      int
	rules        StopRules
	classSet     ClassSetMode
	logger       zerolog.Logger
	metrics      MetricsInterface
}

func defaultOptions() options {
	return options{
		nClassifiers: DefaultClassifiers,
		workers:      runtime.NumCPU(),
		rules:        DefaultStopRules(),
		classSet:     ClassSetForest,
		logger:       zerolog.Nop(),
	}
}

// Option configures a Forest.
type Option func(*options)

// WithClassifiers sets the number of trees. Fit rejects values below 1.
func WithClassifiers(n int) Option {
	return func(o *options) { o.nClassifiers = n }
}

// WithSeed fixes the random source behind bootstrap resampling and feature
// sampling. Two fits with the same seed and input build identical trees.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// WithWorkers bounds the number of trees trained concurrently.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithStopRules(rules StopRules) Option {
	return func(o *options) { o.rules = rules }
}

func WithClassSet(mode ClassSetMode) Option {
	return func(o *options) { o.classSet = mode }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m MetricsInterface) Option {
	return func(o *options) { o.metrics = m }
}

// MetricsInterface defines the metrics a forest reports while training and
// predicting.
type MetricsInterface interface {
	TreesTrainedInc()
	TrainFailuresInc()
	FitDurationObserve(float64)
	TreeDepthObserve(float64)
	TreeNodesObserve(float64)
	PredictionsAdd(float64)
	PredictLatencyObserve(float64)
}
