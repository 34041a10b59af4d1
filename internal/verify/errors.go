package verify

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInstalled reports that the backend's tool is missing from
	// PATH.
	ErrNotInstalled = errors.New("verification tool not installed")

	// ErrBackendOption rejects an option the selected backend cannot
	// honor.
	ErrBackendOption = errors.New("option not supported by backend")

	// ErrMissingSymbols reports test entry points that could not be
	// located in the compiled bitcode.
	ErrMissingSymbols = errors.New("entry symbols missing from bitcode")
)

// validateOptions rejects option combinations the named backend cannot
// run before any external tool is touched.
func validateOptions(backend string, opts Options) error {
	switch backend {
	case BackendProptest:
		if opts.Replay > 0 && len(opts.Args) > 0 {
			return fmt.Errorf("%w: proptest cannot combine replay with program arguments", ErrBackendOption)
		}
	case BackendSeahorn:
		if len(opts.Args) > 0 {
			return fmt.Errorf("%w: seahorn does not take program arguments", ErrBackendOption)
		}
		if opts.Replay > 0 {
			return fmt.Errorf("%w: seahorn cannot replay inputs", ErrBackendOption)
		}
	}
	return nil
}
