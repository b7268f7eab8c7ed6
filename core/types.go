package core

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	apperrors "github.com/Skryldev/image-storage/errors"
)

// Format identifies an image codec.  Output formats are limited to the
// three named constants; FormatUnknown only ever describes a source.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// OutputFormats lists every format the service can write.
var OutputFormats = []Format{FormatJPEG, FormatPNG, FormatWebP}

// ParseFormat maps a requested output format onto the closed set.  Matching
// is case-insensitive; anything else is an unsupported-format error.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJPEG, FormatPNG, FormatWebP:
		return f, nil
	default:
		return "", apperrors.Unsupported("format.parse", s)
	}
}

// Extension is the file extension written for the format.
func (f Format) Extension() string { return string(f) }

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Metadata holds intrinsic image information probed during decode.
type Metadata struct {
	Width     int
	Height    int
	Format    Format
	HasAlpha  bool
	SizeBytes int64
}

// ImageData is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Image holds the decoded handle.
type ImageData struct {
	// Encoded bytes: the raw payload before decode, the output after encode.
	Data   []byte
	Format Format

	// Decoded handle, owned by the backend that produced it
	// (image.Image for the native backend, *vips.Image for libvips).
	Image interface{}

	// Meta is updated as the image moves through the pipeline.
	Meta Metadata

	// Source describes the image as decoded, before any resize.
	Source Metadata

	OriginalSize int64
}

// Releaser is implemented by decoded handles that hold memory outside the
// Go heap.
type Releaser interface {
	Close()
}

// Release frees the decoded handle when it implements Releaser.  The
// handle must not be used afterwards.
func (img *ImageData) Release() {
	if r, ok := img.Image.(Releaser); ok {
		r.Close()
	}
}

// ProcessingResult is returned by the worker pool once a pipeline completes.
type ProcessingResult struct {
	Primary        *ImageData
	ProcessingTime time.Duration
	StepTimings    map[string]time.Duration
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Format  Format
	Quality int // 0-100
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageData value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}

// ── Payload ───────────────────────────────────────────────────────────────────

// Payload is the encoded image submitted for storage, either as base64 text
// or as raw bytes.
type Payload struct {
	text string
	raw  []byte
}

// PayloadFromBase64 wraps base64 text.  A leading data URL header
// ("data:image/png;base64,") is tolerated.
func PayloadFromBase64(s string) Payload { return Payload{text: s} }

// PayloadFromBytes wraps raw encoded bytes.
func PayloadFromBytes(b []byte) Payload { return Payload{raw: b} }

// IsEmpty reports whether no payload was supplied.
func (p Payload) IsEmpty() bool { return p.text == "" && len(p.raw) == 0 }

// TextLen is the length of the payload's base64 text form, without any
// data URL header.
func (p Payload) TextLen() int {
	if p.raw != nil {
		return base64.StdEncoding.EncodedLen(len(p.raw))
	}
	return len(p.base64Text())
}

// base64Text strips a data URL header and surrounding whitespace.
func (p Payload) base64Text() string {
	s := p.text
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return strings.TrimSpace(s)
}

// Bytes returns the encoded image bytes, decoding base64 text if needed.
func (p Payload) Bytes() ([]byte, error) {
	if p.raw != nil {
		return p.raw, nil
	}
	if p.text == "" {
		return nil, apperrors.New(apperrors.CategoryDecode, "payload.bytes", apperrors.ErrEmptyInput)
	}
	s := p.base64Text()
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "payload.base64", err)
	}
	return b, nil
}
