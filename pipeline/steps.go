package pipeline

import (
	"context"
	"fmt"

	"github.com/Skryldev/image-storage/core"
	apperrors "github.com/Skryldev/image-storage/errors"
	"github.com/Skryldev/image-storage/utils"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep turns img.Data into a decoded handle using Backend.
type DecodeStep struct {
	Backend core.Decoder
	// MaxBytes rejects larger payloads before decoding.  0 disables the check.
	MaxBytes int64
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	if s.MaxBytes > 0 && int64(len(img.Data)) > s.MaxBytes {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(),
			fmt.Errorf("%w: %d bytes, limit %d", utils.ErrTooLarge, len(img.Data), s.MaxBytes))
	}

	out, err := s.Backend.Decode(ctx, img.Data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, s.Name(), err)
	}
	if out.Format == core.FormatUnknown {
		// The backend could not name the container; fall back to sniffing.
		out.Format = core.Format(utils.DetectFormat(img.Data))
		out.Meta.Format = out.Format
		out.Source.Format = out.Format
	}
	return out, nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep narrows the image to TargetWidth.  Images already at or below
// the target are passed through untouched; nothing is ever enlarged.
type ResizeStep struct {
	Backend     core.Resizer
	TargetWidth int
	KeepAspect  bool
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	dstW, dstH := utils.TargetDimensions(img.Meta.Width, img.Meta.Height, s.TargetWidth, s.KeepAspect)
	if dstW == img.Meta.Width && dstH == img.Meta.Height {
		return img, nil // nothing to do
	}

	out, err := s.Backend.Resize(ctx, img, dstW, dstH)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	// The pre-resize handle is not reachable from later steps.
	img.Release()
	return out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the decoded image with Options and stores the bytes
// in Data.  The decoded handle is released afterwards; the output carries
// only encoded bytes.
type EncodeStep struct {
	Backend core.Encoder
	Options core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, s.Name(), err)
	}
	defer img.Release()

	data, err := s.Backend.Encode(ctx, img, s.Options)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, s.Name(), err)
	}

	out := *img
	out.Image = nil
	out.Data = data
	out.Format = s.Options.Format
	out.Meta.Format = s.Options.Format
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}

// compile-time interface checks
var (
	_ core.Step = (*DecodeStep)(nil)
	_ core.Step = (*ResizeStep)(nil)
	_ core.Step = (*EncodeStep)(nil)
)
