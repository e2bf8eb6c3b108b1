package forest

import "fmt"

// validateInput checks that x is a non-empty rectangular table aligned with y
// and returns its column count.
func validateInput[L comparable](x [][]float64, y []L) (int, error) {
	if len(x) == 0 {
		return 0, ErrEmptyDataset
	}
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: %d feature rows, %d labels", ErrLengthMismatch, len(x), len(y))
	}
	nFeatures := len(x[0])
	if nFeatures == 0 {
		return 0, ErrNoFeatures
	}
	for i, row := range x {
		if len(row) != nFeatures {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRaggedRows, i, len(row), nFeatures)
		}
	}
	return nFeatures, nil
}

// validateRows checks rows submitted for classification against the
// training column layout.
func validateRows(x [][]float64, nFeatures int) error {
	for i, row := range x {
		if len(row) != nFeatures {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrFeatureCount, i, len(row), nFeatures)
		}
	}
	return nil
}
