// Package dataset loads labelled numeric tables and prepares them for
// training and scoring.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyFile      = errors.New("dataset has no rows")
	ErrTooFewColumns  = errors.New("dataset needs at least one feature and a label column")
	ErrInvalidSplit   = errors.New("invalid train/test split")
	ErrLengthMismatch = errors.New("label slices differ in length")
)

// LoadCSV reads a headerless comma-separated file. Every column but the
// last is parsed as a float feature; the last column is the class label.
func LoadCSV(path string) ([][]float64, []string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	x, y, err := ReadCSV(file)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("rows", len(x)).
		Int("features", len(x[0])).
		Msg("CSV dataset loaded")
	return x, y, nil
}

// ReadCSV parses CSV rows from r as LoadCSV does.
func ReadCSV(r io.Reader) ([][]float64, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var (
		x [][]float64
		y []string
	)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read CSV: %w", err)
		}
		if len(record) < 2 {
			return nil, nil, fmt.Errorf("line %d: %w", line, ErrTooFewColumns)
		}

		last := len(record) - 1
		row := make([]float64, last)
		for j, field := range record[:last] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d column %d: %w", line, j+1, err)
			}
			row[j] = v
		}
		x = append(x, row)
		y = append(y, strings.TrimSpace(record[last]))
	}

	if len(x) == 0 {
		return nil, nil, ErrEmptyFile
	}
	return x, y, nil
}

// TrainTestSplit shuffles the rows with rng and holds out ceil(testSize*N)
// of them for testing. Both parts keep rows and labels aligned.
func TrainTestSplit[L any](x [][]float64, y []L, testSize float64, rng *rand.Rand) (xTrain, xTest [][]float64, yTrain, yTest []L, err error) {
	n := len(x)
	if n != len(y) {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d rows, %d labels", ErrInvalidSplit, n, len(y))
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, nil, nil, fmt.Errorf("%w: test size %v outside (0, 1)", ErrInvalidSplit, testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest >= n {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d rows leave no training data", ErrInvalidSplit, n)
	}

	perm := rng.Perm(n)
	xTest, yTest = make([][]float64, nTest), make([]L, nTest)
	for i, r := range perm[:nTest] {
		xTest[i], yTest[i] = x[r], y[r]
	}
	xTrain, yTrain = make([][]float64, n-nTest), make([]L, n-nTest)
	for i, r := range perm[nTest:] {
		xTrain[i], yTrain[i] = x[r], y[r]
	}
	return xTrain, xTest, yTrain, yTest, nil
}

// Accuracy is the fraction of positions where got matches want.
func Accuracy[L comparable](want, got []L) (float64, error) {
	if len(want) != len(got) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(want), len(got))
	}
	if len(want) == 0 {
		return 0, ErrEmptyFile
	}
	correct := 0
	for i := range want {
		if want[i] == got[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(want)), nil
}
