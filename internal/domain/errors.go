package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job ID does not exist or a claim
	// races with another state transition.
	ErrJobNotFound = errors.New("job not found")
)
