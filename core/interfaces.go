package core

import (
	"context"
	"time"
)

// Decoder turns an encoded payload into a decoded handle plus metadata.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*ImageData, error)
}

// Resizer scales a decoded image.  A height of 0 lets the implementation
// derive the height proportionally from the width.
type Resizer interface {
	Resize(ctx context.Context, img *ImageData, width, height int) (*ImageData, error)
}

// Encoder serialises a decoded image to bytes in opts.Format.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
}

// Backend bundles the codec operations a pipeline needs.
// Implementations live in adapters/native and adapters/vips.
type Backend interface {
	Name() string
	Decoder
	Resizer
	Encoder
}

// PipelineRunner is a minimal interface over pipeline.Pipeline so that core
// does not import the pipeline package (avoiding a circular dependency).
type PipelineRunner interface {
	Run(ctx context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error)
}

// MetricsCollector receives observations from the pipeline and the service.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d time.Duration)
	RecordThroughput(bytes int64)
	RecordSave(format Format, outcome string, savePercentage float64)
	RecordError(stepName string, category string)
}

// Save outcomes passed to MetricsCollector.RecordSave.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
