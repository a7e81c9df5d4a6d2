package model

import "github.com/pkg/errors"

// Sentinel error kinds, matching the error taxonomy in the design
// (transient predictor failure, circuit open, no eligible workers,
// malformed payload, publish failure, persistence failure). Wrap these
// with errors.Wrap/errors.Wrapf at the point of occurrence so
// errors.Cause and errors.Is both work against the sentinel.
var (
	ErrNoWorkersAvailable     = errors.New("no workers available")
	ErrMalformedTask          = errors.New("malformed task payload")
	ErrPublishFailed          = errors.New("publish failed")
	ErrPersistenceUnavailable = errors.New("prediction persistence unavailable")
	ErrPredictorUnavailable   = errors.New("predictor unavailable")
)
