package model

import "errors"

var (
	// ErrMalformedProviderResponse means the provider answered with a payload
	// that does not match the expected schema. Fatal to the run.
	ErrMalformedProviderResponse = errors.New("malformed provider response")

	// ErrProviderUnavailable covers network failures, timeouts and provider-side
	// errors. Callers may retry; the adapters never do.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrUnknownCategoryScore means a score was outside [0,1], not numeric, or
	// (in strict mode) keyed by an unrecognized category.
	ErrUnknownCategoryScore = errors.New("unknown category score")

	// ErrUnitNotFound means a requested chapter id matched no supplied chapter.
	ErrUnitNotFound = errors.New("unit not found")

	ErrRunNotFound       = errors.New("run not found")
	ErrStaleRun          = errors.New("stale run: a newer run for this model was already recorded")
	ErrNothingToModerate = errors.New("nothing to moderate")
	ErrUnknownModel      = errors.New("unknown moderation model")
)
