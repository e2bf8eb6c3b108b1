package dataset

import (
	"encoding/csv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waveform.data")
	content := "1.5,-0.2,3,0\n 2.0, 0.1, 4, 1\n\n-1,-2,-3,2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	x, y, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1.5, -0.2, 3}, {2, 0.1, 4}, {-1, -2, -3}}, x)
	assert.Equal(t, []string{"0", "1", "2"}, y)
}

func TestLoadCSV_MissingFile(t *testing.T) {
	_, _, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty", input: "", wantErr: ErrEmptyFile},
		{name: "label only", input: "a\nb\n", wantErr: ErrTooFewColumns},
		{name: "ragged", input: "1,2,a\n1,a\n", wantErr: csv.ErrFieldCount},
		{name: "non numeric feature", input: "1,x,a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTrainTestSplit(t *testing.T) {
	n := 10
	x := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		x[i] = []float64{float64(i)}
		y[i] = i
	}

	rng := rand.New(rand.NewPCG(1, 2))
	xTrain, xTest, yTrain, yTest, err := TrainTestSplit(x, y, 0.25, rng)
	require.NoError(t, err)
	assert.Len(t, xTest, 3)
	assert.Len(t, yTest, 3)
	assert.Len(t, xTrain, 7)
	assert.Len(t, yTrain, 7)

	// Rows stay aligned with their labels and every row lands exactly once.
	var seen []int
	for i, row := range xTrain {
		assert.Equal(t, float64(yTrain[i]), row[0])
		seen = append(seen, yTrain[i])
	}
	for i, row := range xTest {
		assert.Equal(t, float64(yTest[i]), row[0])
		seen = append(seen, yTest[i])
	}
	sort.Ints(seen)
	assert.Equal(t, y, seen)

	// Same seed, same split.
	_, xTest2, _, _, err := TrainTestSplit(x, y, 0.25, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, xTest, xTest2)
}

func TestTrainTestSplit_Errors(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	x := [][]float64{{1}, {2}}

	_, _, _, _, err := TrainTestSplit(x, []string{"a"}, 0.5, rng)
	assert.ErrorIs(t, err, ErrInvalidSplit)

	for _, size := range []float64{0, 1, -0.1, 1.5} {
		_, _, _, _, err := TrainTestSplit(x, []string{"a", "b"}, size, rng)
		assert.ErrorIs(t, err, ErrInvalidSplit, "test size %v", size)
	}

	_, _, _, _, err = TrainTestSplit(x, []string{"a", "b"}, 0.9, rng)
	assert.ErrorIs(t, err, ErrInvalidSplit)
}

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]string{"a", "b", "c", "a"}, []string{"a", "b", "a", "c"})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, acc, 1e-12)

	_, err = Accuracy([]int{1}, []int{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Accuracy([]int{}, []int{})
	assert.ErrorIs(t, err, ErrEmptyFile)
}
