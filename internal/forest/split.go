package forest

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Split is the best threshold found for one feature column and the weighted
// Gini impurity of the partition it induces.
type Split struct {
	Value float64
	Gini  float64
}

// BestSplit searches every midpoint between consecutive sorted values of
// column and returns the one with the lowest weighted Gini impurity. Ties go
// to the lowest threshold.
//
// target is the one-hot class matrix aligned with column. Per-class counts
// left of each candidate come from prefix sums over the sorted one-hot
// columns, so the search is O(N·C) after sorting.
func BestSplit(column []float64, target *mat.Dense) (Split, error) {
	n, c := target.Dims()
	if len(column) != n {
		return Split{}, fmt.Errorf("%w: column has %d values, target has %d rows", ErrLengthMismatch, len(column), n)
	}
	if n < 2 {
		return Split{}, ErrTooFewRows
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(column[a], column[b])
	})

	sorted := make([]float64, n)
	for i, row := range order {
		sorted[i] = column[row]
	}

	candidates := n - 1
	left := make([][]float64, c)
	totals := make([]float64, c)
	var onehot []float64
	buf := make([]float64, n)
	for k := 0; k < c; k++ {
		onehot = mat.Col(onehot, k, target)
		for i, row := range order {
			buf[i] = onehot[row]
		}
		cum := make([]float64, n)
		floats.CumSum(cum, buf)
		totals[k] = cum[n-1]
		left[k] = cum[:candidates]
	}

	leftTotal := make([]float64, candidates)
	for k := 0; k < c; k++ {
		floats.Add(leftTotal, left[k])
	}
	total := floats.Sum(totals)

	best := Split{Gini: math.Inf(1)}
	for i := 0; i < candidates; i++ {
		rightTotal := total - leftTotal[i]
		giniLeft, giniRight := 1.0, 1.0
		for k := 0; k < c; k++ {
			giniLeft -= proportionSq(left[k][i], leftTotal[i])
			giniRight -= proportionSq(totals[k]-left[k][i], rightTotal)
		}
		weighted := (leftTotal[i]*giniLeft + rightTotal*giniRight) / total
		if weighted < best.Gini {
			best = Split{Value: (sorted[i] + sorted[i+1]) / 2, Gini: weighted}
		}
	}
	return best, nil
}

// proportionSq is (count/total)², or 0 for an empty partition.
func proportionSq(count, total float64) float64 {
	if total == 0 {
		return 0
	}
	p := count / total
	return p * p
}

// gini returns the Gini impurity of a label set.
func gini[L comparable](y []L) float64 {
	if len(y) == 0 {
		return 0
	}
	counts := make(map[L]int)
	for _, label := range y {
		counts[label]++
	}
	g := 1.0
	for _, count := range counts {
		g -= proportionSq(float64(count), float64(len(y)))
	}
	return g
}
