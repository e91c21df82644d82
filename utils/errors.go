package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrPatternNotFound is returned when the checkerboard cannot be located in an image or
	// the detected points do not form a complete grid.
	ErrPatternNotFound = errors.New("calibration pattern not found")
	// ErrInsufficientData is returned when there are too few usable observations to solve for
	// or evaluate a camera model.
	ErrInsufficientData = errors.New("insufficient calibration data")
	// ErrConvergenceFailure is returned when the nonlinear refinement diverges.
	ErrConvergenceFailure = errors.New("calibration did not converge")
	// ErrDimensionMismatch is returned when an image size differs from the size a model or
	// map was built for.
	ErrDimensionMismatch = errors.New("image dimension mismatch")
	// ErrIOFailure is returned when an image or output cannot be read or written.
	ErrIOFailure = errors.New("i/o failure")
)

// NewPatternNotFoundError names the image the pattern was not found in.
func NewPatternNotFoundError(index int, name, reason string) error {
	return errors.Wrapf(ErrPatternNotFound, "image %d (%s): %s", index, name, reason)
}

// NewInsufficientDataError is used when fewer observations than required are supplied.
func NewInsufficientDataError(have, need int) error {
	return errors.Wrapf(ErrInsufficientData, "have %d usable images, need at least %d", have, need)
}

// NewPointCountError is used when an observation does not hold one point per grid corner.
func NewPointCountError(index, have, need int) error {
	return errors.Wrapf(ErrInsufficientData, "image %d has %d points, expected %d", index, have, need)
}

// NewConvergenceFailureError wraps ErrConvergenceFailure with the reason refinement stopped.
func NewConvergenceFailureError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConvergenceFailure, format, args...)
}

// NewDimensionMismatchError is used when an image is not the expected size.
func NewDimensionMismatchError(expectedW, expectedH, actualW, actualH int) error {
	return errors.Wrapf(ErrDimensionMismatch, "expected %dx%d, got %dx%d", expectedW, expectedH, actualW, actualH)
}

// KindError attaches one of the sentinel errors to a cause from elsewhere. It matches both
// Kind and the cause with errors.Is.
type KindError struct {
	Kind error
	Err  error
}

// WrapConvergenceFailure marks err as the reason a model could not be solved for.
func WrapConvergenceFailure(err error) error {
	return &KindError{Kind: ErrConvergenceFailure, Err: err}
}

// WrapInsufficientData marks err as the reason the data cannot be used.
func WrapInsufficientData(err error) error {
	return &KindError{Kind: ErrInsufficientData, Err: err}
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *KindError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IOError records the operation and path of a failed read or write. It matches both
// ErrIOFailure and the underlying cause with errors.Is.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// NewIOFailureError wraps err as an IOError.
func NewIOFailureError(op, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *IOError) Unwrap() []error {
	return []error{ErrIOFailure, e.Err}
}
