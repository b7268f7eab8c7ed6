package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryDecode      Category = "decode"
	CategoryUnsupported Category = "unsupported_format"
	CategoryEncode      Category = "encode"
	CategoryIO          Category = "io"
	CategoryInput       Category = "input"
	CategoryConflict    Category = "conflict"
	CategoryPipeline    Category = "pipeline"
	CategoryConfig      Category = "config"
	CategoryInternal    Category = "internal"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context.  An error that already carries
// a category keeps it; only the operation name is added.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		category = pe.Category
	}
	return New(category, op, err)
}

// Unsupported builds the error returned for an output format outside the
// supported set.  The offending value is part of the message.
func Unsupported(op, value string) *ProcessingError {
	return New(CategoryUnsupported, op, fmt.Errorf("%w: %q", ErrUnsupportedFormat, value))
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// Code returns the category of err as a string, or "internal" when err
// carries no category.
func Code(err error) string {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return string(pe.Category)
	}
	return string(CategoryInternal)
}

// IsBadInput reports whether the category describes a problem with what the
// caller sent rather than with the storage medium.
func IsBadInput(code string) bool {
	switch Category(code) {
	case CategoryDecode, CategoryUnsupported, CategoryInput, CategoryConflict:
		return true
	}
	return false
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrEmptyInput        = errors.New("empty input")
	ErrInvalidPath       = errors.New("path escapes upload root")
	ErrFileExists        = errors.New("file already exists")
	ErrPoolClosed        = errors.New("worker pool closed")
)
