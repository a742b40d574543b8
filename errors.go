package pcsmac

import (
	"errors"
	"fmt"
)

//////
// Errors.
//////

var (
	// ErrConstraintViolation is returned when a set of hyperparameter values
	// breaks an activation condition, a forbidden clause or a value range of
	// the configuration space. Batch splicing recovers from it locally; every
	// other caller treats it as a failure.
	ErrConstraintViolation = errors.New("configuration violates space constraints")

	// ErrSampling is returned when the space cannot produce a valid sample.
	ErrSampling = errors.New("sampling failed")

	// ErrModelFitting wraps surrogate training failures. Fatal for a run.
	ErrModelFitting = errors.New("surrogate model fitting failed")

	// ErrAcquisitionEvaluation wraps acquisition failures, including
	// non-finite acquisition values. Fatal for a run.
	ErrAcquisitionEvaluation = errors.New("acquisition evaluation failed")

	// ErrIntensification wraps failures surfaced by the intensifier. Fatal
	// for a run.
	ErrIntensification = errors.New("intensification failed")

	// ErrInvalidRecord is returned by the run history for records it cannot
	// store, e.g. a negative caching discount or a non-finite cost.
	ErrInvalidRecord = errors.New("invalid run record")

	// ErrInvalidConfig is returned when a Config (or a component config)
	// fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidSpace is returned when hyperparameters, conditions or
	// forbidden clauses cannot form a configuration space. It wraps
	// ErrInvalidConfig.
	ErrInvalidSpace = fmt.Errorf("%w: invalid configuration space", ErrInvalidConfig)
)
