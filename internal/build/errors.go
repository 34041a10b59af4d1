package build

import "errors"

// Sentinel errors reported by the builder and the pipeline service.
var (
	// ErrEmptyImageName is returned when a build names no target image.
	ErrEmptyImageName = errors.New("image name is empty")

	// ErrStepOrder is returned when a document orders a step before the step
	// that produces its declared base image.
	ErrStepOrder = errors.New("step ordered before its declared base")

	// ErrMissingBase is returned when a step's declared base image is absent
	// from the backend store at the time the step would build.
	ErrMissingBase = errors.New("declared base image not present")
)
