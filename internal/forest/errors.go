package forest

import "errors"

var (
	ErrEmptyDataset     = errors.New("empty dataset")
	ErrClassifiers      = errors.New("number of classifiers must be positive")
	ErrNoFeatures       = errors.New("dataset has no feature columns")
	ErrRaggedRows       = errors.New("ragged feature rows")
	ErrLengthMismatch   = errors.New("row count mismatch")
	ErrFeatureCount     = errors.New("unexpected feature count")
	ErrSubspaceTooLarge = errors.New("feature subspace larger than available features")
	ErrTooFewRows       = errors.New("at least two rows are required to split")
	ErrUnknownLabel     = errors.New("label not in class set")
	ErrNotFitted        = errors.New("model is not trained")
	ErrAlreadyTrained   = errors.New("model is already trained")
	ErrTrainFailed      = errors.New("forest training failed")
)
