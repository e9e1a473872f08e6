// Package norm implements masked and fixed-statistics batch normalization
// for variable-length voxel sequences.
//
// Masked batch normalization computes batch statistics over only the
// positions an activity mask marks as real data, normalizes the full dense
// tensor, and zeroes the padded positions so padding never leaks signal
// downstream. The fixed variant normalizes with externally supplied
// statistics for inference.
package norm

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the normalization API. All are detected before
// any in-place mutation; a failed call leaves no observable side effect.
var (
	// ErrShape reports a rank, shape, or dtype violation of the inputs.
	ErrShape = errors.New("shape mismatch")

	// ErrConfig reports invalid options: decay outside [0,1), non-positive
	// eps, or running statistics supplied as half a pair.
	ErrConfig = errors.New("invalid configuration")

	// ErrStateMisuse reports a backward call without a valid, unconsumed
	// matching forward state.
	ErrStateMisuse = errors.New("invalid normalization state")
)

func shapeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrShape, fmt.Sprintf(format, args...))
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
