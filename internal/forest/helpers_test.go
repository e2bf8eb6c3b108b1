package forest

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu             sync.Mutex
	treesTrained   int
	trainFailures  int
	fitDurations   []float64
	depths         []float64
	nodes          []float64
	predictions    float64
	predictLatency []float64
	panicOnTrained bool
}

func (m *MockMetrics) TreesTrainedInc() {
	if m.panicOnTrained {
		panic("metrics backend unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treesTrained++
}

func (m *MockMetrics) TrainFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainFailures++
}

func (m *MockMetrics) FitDurationObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fitDurations = append(m.fitDurations, v)
}

func (m *MockMetrics) TreeDepthObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, v)
}

func (m *MockMetrics) TreeNodesObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append(m.nodes, v)
}

func (m *MockMetrics) PredictionsAdd(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions += v
}

func (m *MockMetrics) PredictLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictLatency = append(m.predictLatency, v)
}

func encode(t *testing.T, y []string) *mat.Dense {
	t.Helper()
	target, err := NewClasses(y).Encode(y)
	require.NoError(t, err)
	return target
}

// separable draws n points uniformly from [0,10)² labelled by feature 0 > 5.
func separable(rng *rand.Rand, n int) ([][]float64, []string) {
	x := make([][]float64, n)
	y := make([]string, n)
	for i := range x {
		x[i] = []float64{rng.Float64() * 10, rng.Float64() * 10}
		if x[i][0] > 5 {
			y[i] = "pos"
		} else {
			y[i] = "neg"
		}
	}
	return x, y
}

func accuracy(want, got []string) float64 {
	correct := 0
	for i := range want {
		if want[i] == got[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(want))
}

// walk visits every node of the subtree rooted at n.
func walk[L comparable](n *Node[L], visit func(*Node[L])) {
	visit(n)
	if n.Left != nil {
		walk(n.Left, visit)
	}
	if n.Right != nil {
		walk(n.Right, visit)
	}
}
