package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
)

// WaveformFeatures is the number of attributes in a waveform row.
const WaveformFeatures = 21

// base returns the triangular wave h1 shifted by offset positions.
func base(i, offset int) float64 {
	return math.Max(6-math.Abs(float64(i-offset-11)), 0)
}

// GenerateWaveform draws n rows of Breiman's three-class waveform data. Each
// row mixes two of three shifted triangular waves with a uniform weight and
// adds unit Gaussian noise; the label is the class index as a string.
func GenerateWaveform(rng *rand.Rand, n int) ([][]float64, []string) {
	// Class c mixes waves pairs[c][0] and pairs[c][1]; offsets 0, 4, -4 are h1, h2, h3.
	pairs := [3][2]int{{0, 4}, {0, -4}, {4, -4}}

	x := make([][]float64, n)
	y := make([]string, n)
	for r := 0; r < n; r++ {
		class := rng.IntN(3)
		u := rng.Float64()
		row := make([]float64, WaveformFeatures)
		for i := range row {
			pos := i + 1
			row[i] = u*base(pos, pairs[class][0]) + (1-u)*base(pos, pairs[class][1]) + rng.NormFloat64()
		}
		x[r] = row
		y[r] = strconv.Itoa(class)
	}
	return x, y
}

// WriteCSV writes rows in the layout LoadCSV reads: features then label.
func WriteCSV(w io.Writer, x [][]float64, y []string) error {
	cw := csv.NewWriter(w)
	for i, row := range x {
		record := make([]string, 0, len(row)+1)
		for _, v := range row {
			record = append(record, strconv.FormatFloat(v, 'f', 2, 64))
		}
		record = append(record, y[i])
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
