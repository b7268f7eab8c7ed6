// Package native implements core.Backend with pure-Go decoders, the imaging
// resampler and the libwebp bindings from chai2010/webp.
//
// It needs no libvips and is selected with BACKEND=native.  Its JPEG encoder
// is the standard library one, which always writes 4:2:0 chroma, and the
// WebP bindings expose no effort setting; the default adapters/vips backend
// applies the full encoder settings.
package native

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/Skryldev/image-storage/core"
	apperrors "github.com/Skryldev/image-storage/errors"
)

// Backend is a stateless core.Backend; one value can serve every goroutine.
type Backend struct {
	// Filter is the resampling kernel.  New sets imaging.Lanczos; the zero
	// value is nearest-neighbour.
	Filter imaging.ResampleFilter
}

// New returns a Backend using the Lanczos kernel.
func New() *Backend { return &Backend{Filter: imaging.Lanczos} }

func (b *Backend) Name() string { return "native" }

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) Decode(ctx context.Context, data []byte) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "native.decode", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "native.decode", apperrors.ErrEmptyInput)
	}

	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryDecode, "native.decode",
			fmt.Errorf("payload is not a recognized image: %w", err))
	}

	bounds := img.Bounds()
	meta := core.Metadata{
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Format:    sourceFormat(name),
		HasAlpha:  hasAlpha(img),
		SizeBytes: int64(len(data)),
	}
	return &core.ImageData{
		Data:         data,
		Format:       meta.Format,
		Image:        img,
		Meta:         meta,
		Source:       meta,
		OriginalSize: int64(len(data)),
	}, nil
}

// ─── Resizer ──────────────────────────────────────────────────────────────────

func (b *Backend) Resize(ctx context.Context, img *core.ImageData, width, height int) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "native.resize", err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, "native.resize", apperrors.ErrEmptyInput)
	}
	if width <= 0 || height < 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "native.resize", apperrors.ErrInvalidDimensions)
	}

	dst := imaging.Resize(src, width, height, b.Filter)

	out := *img
	out.Image = dst
	out.Meta.Width = dst.Bounds().Dx()
	out.Meta.Height = dst.Bounds().Dy()
	return &out, nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func sourceFormat(name string) core.Format {
	switch core.Format(name) {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return core.Format(name)
	}
	return core.FormatUnknown
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

// compile-time interface check
var _ core.Backend = (*Backend)(nil)
