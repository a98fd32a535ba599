package ngram

import "errors"

var (
	// ErrValidation reports bad hyperparameters or build arguments. Raised before any I/O.
	ErrValidation = errors.New("validation error")
	// ErrFormat reports a corrupt model file or a dataset with missing lines.
	ErrFormat = errors.New("format error")
	// ErrIngestion reports a malformed labeled line. The build that hit it is unusable.
	ErrIngestion = errors.New("ingestion error")
	// ErrContractViolation reports an out-of-range statistic or a degenerate renormalization.
	ErrContractViolation = errors.New("contract violation")

	// ErrBuildInProgress is returned when Build is called while another Build runs on the same model
	ErrBuildInProgress = errors.New("model build already in progress")
	// ErrAlreadyBuilt is returned when Build is called on a finished or loaded model
	ErrAlreadyBuilt = errors.New("model already built")
	// ErrNotReady is returned when scoring a model whose build has not completed
	ErrNotReady = errors.New("model is not ready")
)
