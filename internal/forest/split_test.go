package forest

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestBestSplit_SeparableColumn(t *testing.T) {
	column := []float64{12, 1, 11, 2, 10, 3}
	y := []string{"b", "a", "b", "a", "b", "a"}

	s, err := BestSplit(column, encode(t, y))
	require.NoError(t, err)
	assert.Equal(t, 6.5, s.Value)
	assert.Equal(t, 0.0, s.Gini)
}

func TestBestSplit_TieGoesToLowestThreshold(t *testing.T) {
	// Candidates 1.5 and 3.5 both give 1/3; 2.5 gives 1/2.
	column := []float64{1, 2, 3, 4}
	y := []string{"a", "b", "a", "b"}

	s, err := BestSplit(column, encode(t, y))
	require.NoError(t, err)
	assert.Equal(t, 1.5, s.Value)
	assert.InDelta(t, 1.0/3.0, s.Gini, 1e-12)
}

func TestBestSplit_EqualValues(t *testing.T) {
	column := []float64{5, 5, 5, 5}
	y := []string{"a", "b", "a", "b"}

	s, err := BestSplit(column, encode(t, y))
	require.NoError(t, err)
	assert.Equal(t, 5.0, s.Value)
	assert.False(t, math.IsNaN(s.Gini))
}

func TestBestSplit_AbsentClassColumn(t *testing.T) {
	// The third class has no rows, so its column is all zeros.
	classes := NewClasses([]string{"a", "b", "c"})
	y := []string{"a", "a", "b", "b"}
	target, err := classes.Encode(y)
	require.NoError(t, err)

	s, err := BestSplit([]float64{1, 2, 3, 4}, target)
	require.NoError(t, err)
	assert.Equal(t, 2.5, s.Value)
	assert.Equal(t, 0.0, s.Gini)
}

func TestBestSplit_Errors(t *testing.T) {
	_, err := BestSplit([]float64{1}, encode(t, []string{"a"}))
	assert.ErrorIs(t, err, ErrTooFewRows)

	_, err = BestSplit([]float64{1, 2, 3}, encode(t, []string{"a", "b"}))
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

// bruteForceGini recomputes the weighted impurity of the partition left of
// sorted position i without prefix sums.
func bruteForceGini(sortedLabels []string, i int) float64 {
	left, right := sortedLabels[:i+1], sortedLabels[i+1:]
	n := float64(len(sortedLabels))
	return (float64(len(left))*gini(left) + float64(len(right))*gini(right)) / n
}

func TestBestSplit_MinimumOverAllCandidates(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	labels := []string{"a", "b", "c"}

	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.IntN(40)
		column := make([]float64, n)
		y := make([]string, n)
		for i := range column {
			column[i] = float64(rng.IntN(20))
			y[i] = labels[rng.IntN(len(labels))]
		}

		s, err := BestSplit(column, encode(t, y))
		require.NoError(t, err)

		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			switch {
			case column[a] < column[b]:
				return -1
			case column[a] > column[b]:
				return 1
			}
			return 0
		})
		sorted := make([]float64, n)
		sortedLabels := make([]string, n)
		for i, r := range order {
			sorted[i] = column[r]
			sortedLabels[i] = y[r]
		}

		isMidpoint := false
		for i := 0; i < n-1; i++ {
			assert.LessOrEqual(t, s.Gini, bruteForceGini(sortedLabels, i)+1e-12)
			if s.Value == (sorted[i]+sorted[i+1])/2 {
				isMidpoint = true
			}
		}
		assert.True(t, isMidpoint, "threshold %v is not a midpoint of %v", s.Value, sorted)
		assert.GreaterOrEqual(t, s.Value, sorted[0])
		assert.LessOrEqual(t, s.Value, sorted[n-1])
	}
}

func TestGini(t *testing.T) {
	tests := []struct {
		name string
		y    []string
		want float64
	}{
		{"empty", nil, 0},
		{"pure", []string{"a", "a", "a"}, 0},
		{"two balanced", []string{"a", "b", "a", "b"}, 0.5},
		{"three balanced", []string{"a", "b", "c"}, 1 - 1.0/3.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, gini(tc.y), 1e-12)
		})
	}
}

func TestProportionSq_ZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, proportionSq(0, 0))
	assert.Equal(t, 0.25, proportionSq(1, 2))
}

func TestClasses_Encode(t *testing.T) {
	y := []string{"b", "a", "b", "c"}
	classes := NewClasses(y)
	assert.Equal(t, []string{"b", "a", "c"}, classes.Labels())

	target, err := classes.Encode(y)
	require.NoError(t, err)
	want := mat.NewDense(4, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	assert.True(t, mat.Equal(want, target))

	_, err = classes.Encode([]string{"d"})
	assert.ErrorIs(t, err, ErrUnknownLabel)

	_, err = classes.Encode(nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}
